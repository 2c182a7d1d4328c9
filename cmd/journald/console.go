package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
)

var consoleOwner int64

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Hold a journaling conversation in the terminal",
	Long: `Starts a session for --owner and reads one message per line from stdin.
Replies stream as they are generated. Type /quit or send EOF to finish the
session and write the journal.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().Int64Var(&consoleOwner, "owner", 0, "owner ID to converse as")
	_ = consoleCmd.MarkFlagRequired("owner")
}

func runConsole(cmd *cobra.Command, args []string) error {
	// Keep stdout for the conversation itself.
	logOutput = os.Stderr
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	opening, err := a.ctrl.Start(ctx, consoleOwner, "console")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "journal: %s\n", opening)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		if interactive {
			fmt.Fprint(out, "you: ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := streamReply(ctx, a.ctrl, out, line); err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "\n[error: %v]\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("stdin read failed", "error", err)
	}

	// Finish even after Ctrl-C so the conversation is not lost.
	res, err := a.ctrl.Finish(context.WithoutCancel(ctx), consoleOwner)
	if err != nil {
		return err
	}
	printFinish(out, res)
	return nil
}

func streamReply(ctx context.Context, ctrl *conversation.Controller, out io.Writer, text string) error {
	stream, err := ctrl.AdvanceStream(ctx, consoleOwner, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Fprint(out, "journal: ")
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, frag)
	}
}

func printFinish(out io.Writer, res *conversation.FinishResult) {
	fmt.Fprintf(out, "\nsession %d finished after %d turns (%ds)\n", res.SessionID, res.TurnCount, res.DurationSeconds)
	if res.JournalID == nil {
		fmt.Fprintln(out, "too short for a journal entry")
		return
	}
	fmt.Fprintf(out, "journal %d saved to %s\n", *res.JournalID, res.ArtifactPath)
	if res.Degraded {
		fmt.Fprintln(out, "some analysis steps failed; see logs")
	}
	if len(res.Topics) > 0 {
		fmt.Fprintf(out, "topics: %s\n", res.Topics.String())
	}
	if res.Emotions != nil {
		for _, e := range res.Emotions.Top(3) {
			fmt.Fprintf(out, "  %-12s %.2f\n", e.Name, e.Score)
		}
	}
}
