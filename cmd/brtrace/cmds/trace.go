package cmds

import (
	"fmt"
	"strconv"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/andersenlabs/brtrace/config"
)

func newTraceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "start or stop a branch trace in an attached process",
	}
	cmd.AddCommand(newTraceStartCommand(a), newTraceStopCommand(a))
	return cmd
}

func newTraceStartCommand(a *app) *cobra.Command {
	var (
		configPath    string
		pid           int64
		address       uint32
		threadID      int64
		maxDepth      int64
		lifetime      int64
		excludeModule string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "arm a branch trace at an address, either from a config file or from flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := int32(pid)
			startAddress := uintptr(address)
			threadID := int32(threadID)
			maxDepth := int32(maxDepth)
			lifetime := int32(lifetime)

			if configPath != "" {
				session, err := config.Load(configPath)
				if err != nil {
					return err
				}
				pid = session.ProcessID
				startAddress = uintptr(session.EntryAddress)
				threadID = session.ThreadID
				maxDepth = session.MaxTraceDepth
				lifetime = session.Lifetime

				excluded, err := tokenizeModuleList(session.ExcludeModules)
				if err != nil {
					return err
				}
				if len(excluded) > 0 {
					a.log.WithField("exclude", excluded).Debug("module exclusion list loaded (suspension is enforced by module bounds, not yet by name)")
				}
			}

			if excludeModule != "" {
				tokens, err := argv.Argv(excludeModule, nil, nil)
				if err != nil {
					return fmt.Errorf("brtrace: parse --exclude: %w", err)
				}
				if len(tokens) > 0 {
					a.log.WithField("exclude", tokens[0]).Debug("module exclusion list loaded from --exclude")
				}
			}

			ctx, ok := a.manager.ContextForPID(pid)
			if !ok {
				return fmt.Errorf("brtrace: pid %d is not attached, run 'attach' first", pid)
			}

			traceID, err := a.manager.StartTrace(ctx, startAddress, threadID, maxDepth, lifetime)
			if err != nil {
				return err
			}
			a.log.WithFields(map[string]interface{}{
				"pid":      pid,
				"address":  fmt.Sprintf("%#x", startAddress),
				"trace_id": traceID,
			}).Info("trace started")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TraceSession YAML file (overrides the other flags below)")
	cmd.Flags().Int64Var(&pid, "pid", 0, "attached process id")
	cmd.Flags().Uint32Var(&address, "address", 0, "trace start address")
	cmd.Flags().Int64Var(&threadID, "thread", -1, "thread id to scope the trace to, -1 for every thread")
	cmd.Flags().Int64Var(&maxDepth, "max-depth", -1, "maximum call depth, -1 for unbounded")
	cmd.Flags().Int64Var(&lifetime, "lifetime", -1, "maximum number of breakpoint hits, -1 for unlimited")
	cmd.Flags().StringVar(&excludeModule, "exclude", "", "space-separated list of module names to exclude (alternative to --config)")

	return cmd
}

func newTraceStopCommand(a *app) *cobra.Command {
	var (
		pid      int64
		address  uint32
		threadID int64
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "remove a previously armed branch trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ok := a.manager.ContextForPID(int32(pid))
			if !ok {
				return fmt.Errorf("brtrace: pid %d is not attached", pid)
			}
			n, err := a.manager.StopTrace(ctx, uintptr(address), int32(threadID))
			if err != nil {
				return err
			}
			a.log.WithFields(map[string]interface{}{
				"pid":     pid,
				"address": fmt.Sprintf("%#x", address),
				"removed": n,
			}).Info("trace stop requested")
			return nil
		},
	}

	cmd.Flags().Int64Var(&pid, "pid", 0, "attached process id")
	cmd.Flags().Uint32Var(&address, "address", 0, "trace start address")
	cmd.Flags().Int64Var(&threadID, "thread", -1, "thread id the trace was scoped to")

	return cmd
}

// tokenizeModuleList re-tokenizes a YAML string-list exclusion list
// through argv, matching how --exclude on the command line is parsed,
// so both sources behave identically with respect to quoting.
func tokenizeModuleList(modules []string) ([]string, error) {
	var out []string
	for _, m := range modules {
		tokens, err := argv.Argv(m, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("brtrace: parse exclude_modules entry %q: %w", m, err)
		}
		for _, group := range tokens {
			out = append(out, group...)
		}
	}
	return out, nil
}
