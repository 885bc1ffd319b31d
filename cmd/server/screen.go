package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lukasbauer/callguard/internal/app"
	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/screening"
)

type consoleScreener interface {
	HandleInbound(ctx context.Context, ev screening.InboundCall) (screening.Result, error)
	HandleSpeech(ctx context.Context, ev screening.SpeechResult) (screening.Result, error)
	Session(id string) (conversation.Session, bool)
}

func buildScreenCmd(logger *log.Logger) *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Screen a simulated call from stdin",
		Long: `Simulate one call on the console. Each line read from stdin is a caller
utterance; an empty line is silence. The directives produced for every turn
and the final session are printed as JSON.`,
		Example: `  printf 'Buongiorno, offerta luce e gas\n' | callguard screen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfigFromEnv()
			// Console runs never touch the audit database.
			cfg.DatabaseURL = ""

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return runScreen(cmd.Context(), a.Screener(), caller, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&caller, "from", "console", "Caller number recorded on the session")
	return cmd
}

func runScreen(ctx context.Context, s consoleScreener, caller string, in io.Reader, out io.Writer) error {
	if caller == "" {
		caller = "console"
	}
	id := "console-" + uuid.NewString()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	res, err := s.HandleInbound(ctx, screening.InboundCall{SessionID: id, Caller: caller})
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	if err := enc.Encode(res); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for !res.State.IsTerminal() && scanner.Scan() {
		res, err = s.HandleSpeech(ctx, screening.SpeechResult{SessionID: id, Caller: caller, Transcript: scanner.Text()})
		if err != nil {
			return fmt.Errorf("speech turn: %w", err)
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	session, _ := s.Session(id)
	return enc.Encode(session)
}
