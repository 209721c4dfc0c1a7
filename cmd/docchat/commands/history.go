package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/store"
)

// NewHistoryCmd constructs the `docchat history` command, which replays the
// stored transcript of a conversation oldest first.
func NewHistoryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation transcript",
		Long: `Print every stored turn of the conversation selected by --conversation,
oldest first. Nothing is printed when the transcript is empty or the history
database cannot be reached.

Examples:
  docchat history
  docchat history --conversation contract-review --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			hist := openHistory(ctx, log)
			defer func() {
				if cerr := hist.Close(); cerr != nil {
					log.Warn("history: close failed", slog.Any("error", cerr))
				}
			}()

			msgs := store.NewTranscript(hist, conversationID).Load(ctx)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if msgs == nil {
					msgs = []store.Message{}
				}
				return enc.Encode(msgs) //nolint:wrapcheck // CLI entry point
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s\n%s\n\n",
					m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					strings.ToUpper(string(m.Role)),
					m.Content,
				)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the transcript as JSON")

	return cmd
}
