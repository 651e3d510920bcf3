package service

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/controller"
	"github.com/andersenlabs/brtrace/pkg/errcode"
	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/winapi"
)

func TestManagerStopTraceReportsZeroMatchesAsSuccess(t *testing.T) {
	m := NewManager(nil)
	ctx := &Context{
		ProcessID:  CurrentProcess,
		Registry:   registry.New(),
		Controller: controller.New(registry.New()),
	}

	n, err := m.StopTrace(ctx, 0x400000, -1)
	if err != nil {
		t.Fatalf("StopTrace on an unmatched trace should succeed, got: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 matches, got %d", n)
	}
	if got := errcode.Last(winapi.GetCurrentThreadId()); got != errcode.Success {
		t.Fatalf("expected errcode.Success recorded for a successful zero-match stop, got %v", got)
	}
}

func TestManagerStopTraceRejectsNonLocalContext(t *testing.T) {
	m := NewManager(nil)
	ctx := &Context{ProcessID: 4242}

	if _, err := m.StopTrace(ctx, 0x400000, -1); err == nil {
		t.Fatalf("StopTrace on a non-local context should fail")
	}
	if got := errcode.Last(winapi.GetCurrentThreadId()); got != errcode.InvalidProcess {
		t.Fatalf("expected errcode.InvalidProcess recorded, got %v", got)
	}
}
