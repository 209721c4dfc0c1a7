package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewAskCmd constructs the `docchat ask` command, which answers one question
// from the indexed documents and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var modelID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested documents",
		Long: `Ask a natural language question about the documents in the vector store.

The most similar chunks are retrieved and passed to the model as context,
together with the stored conversation. The question and answer are appended
to the transcript selected by --conversation.

Examples:
  docchat ask "when are invoices due?"
  docchat ask --model gpt-4o "summarise the termination clause"
  docchat ask --conversation contract-review "who are the parties?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			flush, _ := tracing.Install()
			defer flush()

			sess, err := buildSession(ctx, log, conversationID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					log.Warn("ask: close failed", slog.Any("error", cerr))
				}
			}()

			out := cmd.OutOrStdout()
			if _, err := sess.Ask(ctx, modelID, strings.Join(args, " "), out); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model to answer with (default: MODEL_DEFAULT or the first allow-listed model)")

	return cmd
}
