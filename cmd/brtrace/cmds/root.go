// Package cmds is the cobra command tree for the brtrace CLI, standing
// in for the teacher's cmd/dlv/cmds package: one root command, a small
// set of subcommands, flags declared with pflag and bound into a shared
// application context rather than read ad hoc inside each RunE.
package cmds

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andersenlabs/brtrace/service"
)

// app bundles the state shared across subcommands: one Manager for the
// life of the process, plus the flags every subcommand reads.
type app struct {
	manager *service.Manager
	log     *logrus.Entry

	verbose      bool
	cpuProfile   bool
	memProfile   bool
	profileStop  func()
	acquireDebug bool
}

// New builds the root brtrace command with all subcommands attached.
func New() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "brtrace",
		Short: "brtrace arms hardware-breakpoint branch traces in Windows processes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "pretty-print records with kr/pretty instead of one line per record")
	flags.BoolVar(&a.cpuProfile, "cpuprofile", false, "profile CPU usage for the duration of the command")
	flags.BoolVar(&a.memProfile, "memprofile", false, "profile heap usage for the duration of the command")
	flags.BoolVar(&a.acquireDebug, "acquire-debug-privilege", false, "acquire SeDebugPrivilege before attaching, required to attach to processes owned by another user")

	root.AddCommand(
		newAttachCommand(a),
		newTraceCommand(a),
		newFetchCommand(a),
		newDecodeCommand(a),
		newVersionCommand(),
	)

	return root
}

func (a *app) setup() error {
	a.log = newLogger(a.verbose)
	a.manager = service.NewManager(a.log)
	if err := a.manager.Init(a.acquireDebug); err != nil {
		return fmt.Errorf("brtrace: init: %w", err)
	}

	switch {
	case a.cpuProfile:
		p := profile.Start(profile.CPUProfile)
		a.profileStop = p.Stop
	case a.memProfile:
		p := profile.Start(profile.MemProfile)
		a.profileStop = p.Stop
	}
	return nil
}

func (a *app) teardown() error {
	if a.profileStop != nil {
		a.profileStop()
	}
	if a.manager != nil {
		return a.manager.Shutdown()
	}
	return nil
}

// newLogger builds a logrus entry writing ANSI-colored text when stdout
// is a real terminal, and plain text (via go-colorable's passthrough on
// non-Windows, or its ANSI-stripping writer on Windows consoles that
// don't support escapes) otherwise.
func newLogger(verbose bool) *logrus.Entry {
	logger := logrus.New()
	logger.Out = colorable.NewColorableStdout()
	logger.Formatter = &logrus.TextFormatter{
		ForceColors: isatty.IsTerminal(os.Stdout.Fd()),
	}
	if verbose {
		logger.Level = logrus.DebugLevel
	}
	return logger.WithFields(logrus.Fields{"layer": "cli"})
}
