package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/cmdrelay/internal/application/classify"
)

// NewClassifyCommand creates the classify command. It needs no configuration.
func NewClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "classify [text...]",
		Short:       "Classify a response as ERROR, ECHO, CODE, JSON or UNKNOWN",
		Long:        "Classifies the joined arguments, or all of stdin when no arguments are given.",
		Annotations: standalone(),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}
			fmt.Fprintln(cmd.OutOrStdout(), classify.Classify(text))
			return nil
		},
	}
}
