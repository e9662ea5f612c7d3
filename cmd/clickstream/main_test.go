package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("clickstream %s: %v\nstderr:\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func TestCLI_GenerateBulkPartitions(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	out := run(t, "generate", "--data-dir", dataDir, "--sink", "storage",
		"--batch-size", "20", "--max-batches", "2", "--delay", "1ms", "--seed", "5")
	if !strings.Contains(out, "batches=2 sent=40 failed=0") {
		t.Fatalf("unexpected generate output: %q", out)
	}

	out = run(t, "bulk", "--data-dir", dataDir, "--job-name", "cli-test")
	if !strings.Contains(out, "objects=2") || !strings.Contains(out, "written=40") {
		t.Fatalf("unexpected bulk output: %q", out)
	}

	out = run(t, "partitions", "--data-dir", dataDir, "--source", "cli-test")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "PARTITION") {
		t.Fatalf("unexpected partitions output: %q", out)
	}
	if !strings.Contains(lines[1], "year=") || !strings.Contains(lines[1], "cli-test") {
		t.Errorf("partition row missing key or source: %q", lines[1])
	}

	out = run(t, "partitions", "--data-dir", dataDir, "--source", "no-such-job", "--json")
	if strings.TrimSpace(out) != "null" {
		t.Errorf("expected no partitions, got %q", out)
	}
}

func TestCLI_TransformRequiresKeys(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"transform", "--data-dir", t.TempDir()})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without object keys")
	}
}

func TestPadDatePart(t *testing.T) {
	cases := map[string]string{
		"1":                          "01",
		"08":                         "08",
		"12":                         "12",
		"":                           "",
		"__HIVE_DEFAULT_PARTITION__": "__HIVE_DEFAULT_PARTITION__",
	}
	for in, want := range cases {
		if got := padDatePart(in); got != want {
			t.Errorf("padDatePart(%q) = %q, want %q", in, got, want)
		}
	}
}
