// Package config loads a trace session description from YAML, the
// declarative counterpart to cmd/brtrace's flags. Mirrors the teacher's
// habit of keeping CLI-adjacent configuration in its own package rather
// than scattering defaults across flag declarations.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// TraceSession describes one trace to arm, the on-disk equivalent of the
// arguments service.Manager.StartTrace needs plus enough process
// identification to get there.
type TraceSession struct {
	// ProcessID selects an already-running process; -1 means "this
	// process". 0, the YAML zero value, counts as unset: Validate rejects
	// it unless Executable is set.
	ProcessID int32 `yaml:"process_id"`

	// Executable, if set and ProcessID is unset, names an executable to
	// launch and attach to. Launching is outside this library's scope
	// (spec.md Non-goals, §launcher) — callers resolve this to a pid
	// themselves before calling into service.
	Executable string `yaml:"executable,omitempty"`

	// EntrySymbol/EntryAddress locate the trace's start address; exactly
	// one must be set. EntryAddress is used verbatim. EntrySymbol is only
	// parsed and validated: nothing in this repository resolves it to an
	// address, and "brtrace trace start --config" reads EntryAddress alone.
	EntrySymbol  string `yaml:"entry_symbol,omitempty"`
	EntryAddress uint32 `yaml:"entry_address,omitempty"`

	// ThreadID scopes the trace to one thread; -1 traces every thread
	// that reaches EntryAddress.
	ThreadID int32 `yaml:"thread_id"`

	// MaxTraceDepth bounds how many call levels deep the trace follows
	// before suspending; -1 means unbounded.
	MaxTraceDepth int32 `yaml:"max_trace_depth"`

	// Lifetime bounds how many times the breakpoint may fire before the
	// trace self-removes; -1 means unlimited.
	Lifetime int32 `yaml:"lifetime"`

	// ExcludeModules lists module names to exclude from tracing.
	// "brtrace trace start --config" tokenizes and logs the list; the
	// dispatcher does not consult it and suspends only on leaving the
	// start address's module code section or on reaching MaxTraceDepth.
	ExcludeModules []string `yaml:"exclude_modules,omitempty"`

	// SharedRegionName, if set, names the shared-memory mapping the
	// trace's ring buffer is created in, so an external collector
	// process can open the same name.
	SharedRegionName string `yaml:"shared_region_name,omitempty"`

	// RingCapacity is the number of TracedInstruction slots in the
	// output ring; <= 0 uses the package default.
	RingCapacity int `yaml:"ring_capacity"`
}

// Validate reports whether the session is well-formed enough to attempt.
func (s *TraceSession) Validate() error {
	if s.Executable == "" && s.ProcessID == 0 {
		return fmt.Errorf("config: one of process_id or executable must be set")
	}
	if s.EntrySymbol == "" && s.EntryAddress == 0 {
		return fmt.Errorf("config: one of entry_symbol or entry_address must be set")
	}
	if s.EntrySymbol != "" && s.EntryAddress != 0 {
		return fmt.Errorf("config: entry_symbol and entry_address are mutually exclusive")
	}
	return nil
}

// Load reads and parses a TraceSession from path.
func Load(path string) (*TraceSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	session := &TraceSession{
		ThreadID:      -1,
		MaxTraceDepth: -1,
		Lifetime:      -1,
	}
	if err := yaml.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	return session, nil
}
