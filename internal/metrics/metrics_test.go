package metrics

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmitIsNoopWithoutEnvVar(t *testing.T) {
	t.Setenv(EnvRoot, "")
	if err := Emit("b_1", "create", 0, "orchestrator", time.Now()); err != nil {
		t.Fatalf("expected no error when %s is unset, got %v", EnvRoot, err)
	}
}

func TestEmitWritesJSONLWhenEnvSet(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvRoot, root)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := Emit("b_1", "create", 0, "orchestrator", now); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := Emit("b_1", "start", 0, "codex", now); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	path := filepath.Join(root, "2026-03-04.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 events written, got %d", lines)
	}
}

func TestEmitBestEffortNeverPanics(t *testing.T) {
	t.Setenv(EnvRoot, "/nonexistent/definitely/not/writable/path")
	EmitBestEffort("b_1", "create", 0, "orchestrator", time.Now())
}
