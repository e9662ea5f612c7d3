// Package main implements the clickstream command: event generation, the
// per-object and bulk transforms, the local trigger and catalog inspection.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
