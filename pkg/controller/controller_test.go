package controller

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/registry"
)

func TestStopTraceReportsZeroMatchesAsSuccessWhenNoTraceMatches(t *testing.T) {
	c := New(registry.New())

	n, err := c.StopTrace(0x400000, -1)
	if err != nil {
		t.Fatalf("StopTrace on an unmatched trace should succeed, got: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 matches, got %d", n)
	}
}
