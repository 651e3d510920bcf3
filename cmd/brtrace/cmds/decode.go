package cmds

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newDecodeCommand(a *app) *cobra.Command {
	var address uint32

	cmd := &cobra.Command{
		Use:   "decode <hex-bytes>",
		Short: "decode and format a single x86 instruction, without attaching to a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("brtrace: invalid hex bytes %q: %w", args[0], err)
			}

			kind, text, err := a.manager.DecodeAndFormat(code, address)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", kind, text)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&address, "address", 0, "address the instruction is located at, used for relative-target formatting")

	return cmd
}
