package cli

import (
	"github.com/spf13/cobra"

	"github.com/doeshing/cmdrelay/internal/app"
	"github.com/doeshing/cmdrelay/internal/infrastructure/cli/commands"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
}

// NewRootCmd wires the cobra root command. The container is built once flags
// are parsed so that --config can choose the file; commands annotated with
// commands.AnnotationStandalone never build it.
func NewRootCmd(opts Options) *cobra.Command {
	container := &app.Container{}
	built := false

	root := &cobra.Command{
		Use:   "cmdrelay",
		Short: "cmdrelay - local command relay over WebSocket",
		Long: "cmdrelay accepts prefixed text messages (CMD:, CODE:, INFO:, FILE:, REPLAY:) over a\n" +
			"local WebSocket, runs them on this machine and replies with plain text.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[commands.AnnotationStandalone] == "true" {
				return nil
			}
			c, err := app.BuildContainer(cmd.Context(), app.Options{
				ConfigPath: opts.ConfigPath,
				Verbose:    opts.Verbose,
			})
			if err != nil {
				return err
			}
			*container = *c
			built = true
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !built {
				return nil
			}
			return container.Close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Config file (default $CMDRELAY_CONFIG or ~/.cmdrelay/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose, "Enable debug logging")

	root.AddCommand(
		commands.NewServeCommand(container),
		commands.NewSendCommand(container),
		commands.NewClassifyCommand(),
		commands.NewJournalCommand(container),
		commands.NewConfigCommand(container),
		commands.NewGuardrailCommand(container),
		commands.NewDoctorCommand(container),
		commands.NewVersionCommand(),
	)
	return root
}
