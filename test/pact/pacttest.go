//go:build pact
// +build pact

package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	ProviderName = "catalog-api"
	ConsumerName = "catalogctl"

	StateNoDeadLetters    = "no dead letters are quarantined"
	StateDeadLetterExists = "a graph-index dead letter exists"
	StateDeadLetterGone   = "no dead letter with the missing id"
)

const (
	DeadLetterGroup   = "graph-index"
	DeadLetterID      = "0b9c43f5-6a1e-5d0b-9d2c-2b7f3b1a0c11"
	MissingLetterID   = "7f0e6d5c-0000-5000-8000-000000000404"
	DeadLetterEventID = "evt-pact-1"
	DeadLetterUrn     = "glossaryTerm:revenue"
	DeadLetterAspect  = "glossaryTermInfo"
	DeadLetterReason  = "edge target glossaryNode:missing is not indexed"

	// AdminToken is the bearer the provider accepts as an ADMIN actor.
	AdminToken = "pact-admin-token"
)

// PactDir returns the workspace-level directory for generated pact files.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

// PactFile returns the canonical pact file path for the catalogctl consumer.
func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

// LogDir returns the log output directory for pact-go.
func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

// ExampleDeadLetter is the dead letter body both sides agree on.
func ExampleDeadLetter() map[string]any {
	return map[string]any{
		"id":         DeadLetterID,
		"group":      DeadLetterGroup,
		"partition":  0,
		"offset":     3,
		"eventId":    DeadLetterEventID,
		"urn":        DeadLetterUrn,
		"aspect":     DeadLetterAspect,
		"version":    2,
		"lastReason": DeadLetterReason,
	}
}

// projectRoot walks up from this file to the workspace root.
func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
