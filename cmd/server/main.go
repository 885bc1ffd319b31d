package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := buildRootCmd(logger).Execute(); err != nil {
		logger.Fatalf("callguard: %v", err)
	}
}

// buildRootCmd creates the command tree. Running the binary without a
// subcommand serves webhooks.
func buildRootCmd(logger *log.Logger) *cobra.Command {
	serve := buildServeCmd(logger)

	root := &cobra.Command{
		Use:   "callguard",
		Short: "Answer inbound calls and screen out spam",
		Long: `callguard answers phone calls on behalf of a subscriber, talks to the
caller in Italian, English or Polish, scores how likely the call is spam and
hangs up on spammers.

Configuration is read from the environment (HTTP_ADDR, OPENAI_API_KEY, ...).`,
		Version:      version,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}

	root.AddCommand(
		serve,
		buildScreenCmd(logger),
		buildTokenCmd(),
	)
	return root
}

func buildTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the inspection endpoints",
		Example: `  OPERATOR_JWT_SECRET=... callguard token --subject alice --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), os.Getenv("OPERATOR_JWT_SECRET"), subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&ttl, "ttl", "12h", "Token lifetime")
	return cmd
}
