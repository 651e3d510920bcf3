package cmds

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andersenlabs/brtrace/service"
)

func newAttachCommand(a *app) *cobra.Command {
	var (
		sharedRegionName string
		ringCapacity     int
		injectDLLPath    string
	)

	cmd := &cobra.Command{
		Use:   "attach <pid>",
		Short: "attach to a process, or with --inject load a tracer DLL into it instead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("brtrace: invalid pid %q: %w", args[0], err)
			}

			if injectDLLPath != "" {
				if err := a.manager.InjectAndAttach(uint32(pid), injectDLLPath); err != nil {
					return err
				}
				a.log.WithField("pid", pid).Info("injected tracer")
				return nil
			}

			ctx, err := a.manager.AttachProcess(int32(pid), sharedRegionName, ringCapacity)
			if err != nil {
				return err
			}
			a.log.WithFields(map[string]interface{}{
				"pid":   pid,
				"local": ctx.IsLocal(),
			}).Info("attached")
			return nil
		},
	}

	cmd.Flags().StringVar(&sharedRegionName, "shared-region", "", "name of the shared-memory region to put the trace ring in (default: process-private)")
	cmd.Flags().IntVar(&ringCapacity, "ring-capacity", service.DefaultRingCapacity, "number of TracedInstruction slots in the trace ring")
	cmd.Flags().StringVar(&injectDLLPath, "inject", "", "path to a tracer DLL to load into the target; no context is attached from this process when set")

	return cmd
}
