package cmds

import (
	"fmt"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/andersenlabs/brtrace/pkg/record"
)

func newFetchCommand(a *app) *cobra.Command {
	var (
		pid   int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "drain pending traced-instruction records from an attached process's ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ok := a.manager.ContextForPID(int32(pid))
			if !ok {
				return fmt.Errorf("brtrace: pid %d is not attached", pid)
			}

			out := make([]record.TracedInstruction, limit)
			n, err := a.manager.FetchTraces(ctx, out)
			if err != nil {
				return err
			}

			for i := 0; i < n; i++ {
				if a.verbose {
					fmt.Printf("%# v\n", pretty.Formatter(out[i]))
					continue
				}
				fmt.Printf("%d %s %#x -> %#x (%s)\n", out[i].ThreadID, out[i].Type, out[i].BranchSource, out[i].BranchTarget, out[i].String())
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&pid, "pid", 0, "attached process id")
	cmd.Flags().IntVar(&limit, "limit", 1024, "maximum number of records to drain in one call")

	return cmd
}
