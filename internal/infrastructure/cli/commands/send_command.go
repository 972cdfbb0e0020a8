package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/cmdrelay/internal/app"
	"github.com/doeshing/cmdrelay/internal/application/classify"
	"github.com/doeshing/cmdrelay/internal/infrastructure/client"
)

// NewSendCommand creates the send command
func NewSendCommand(container *app.Container) *cobra.Command {
	var (
		host        string
		port        int
		attempts    int
		retryDelay  time.Duration
		readTimeout time.Duration
		fromStdin   bool
	)

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a message to a running server and print the reply",
		Long: "Sends one protocol message, for example `cmdrelay send CMD:ls -la`.\n" +
			"With --stdin every non-empty input line is sent over a single connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(container.ClientAddress(host, port),
				client.WithRetry(attempts, retryDelay),
				client.WithReadTimeout(readTimeout),
				client.WithLogger(container.Logger),
			)
			if fromStdin {
				return sendLines(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), c)
			}
			if len(args) == 0 {
				return fmt.Errorf(ErrCommandRequired)
			}
			sp := spinnerFor("waiting for reply")
			sp.Start()
			reply, err := c.Send(cmd.Context(), strings.Join(args, " "))
			sp.Stop()
			if err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port (default from config)")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "Connection attempts")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 500*time.Millisecond, "Initial delay between connection attempts")
	cmd.Flags().DurationVar(&readTimeout, "timeout", 90*time.Second, "Time to wait for each reply")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read messages from stdin, one per line")
	return cmd
}

func sendLines(ctx context.Context, in io.Reader, out io.Writer, c *client.Client) error {
	session, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err := session.Send(ctx, line)
		if err != nil {
			return err
		}
		printReply(out, reply)
	}
	return scanner.Err()
}

// printReply writes the reply followed by its classifier category.
func printReply(out io.Writer, reply string) {
	fmt.Fprintln(out, reply)
	fmt.Fprintf(out, "[%s]\n", classify.Classify(reply))
}
