package types

import "errors"

// Partition-related errors
var (
	// ErrInvalidPartitionKey is returned when a partition key has missing or non-numeric parts
	ErrInvalidPartitionKey = errors.New("invalid partition key")
)
