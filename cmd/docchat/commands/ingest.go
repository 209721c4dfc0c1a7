package commands

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/session"
)

// NewIngestCmd constructs the `docchat ingest` command, which parses local
// documents and indexes their chunks into the vector store.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Index PDF, DOC and DOCX files into the vector store",
		Long: `Parse, split and index local documents so later questions can use them.

Each file is processed on its own: an unsupported or unreadable file is
reported and the remaining files are still indexed. The command fails only
when no chunk at all could be stored.

Examples:
  docchat ingest handbook.pdf
  docchat ingest contracts/*.docx legacy/terms.doc`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			sess, err := buildSession(ctx, log, conversationID)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					log.Warn("ingest: close failed", slog.Any("error", cerr))
				}
			}()

			report, err := sess.UploadPaths(ctx, args, func(msg string) {
				log.Info(msg)
			})
			if report != nil {
				printReport(cmd, report)
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if report.Chunks() == 0 {
				return fmt.Errorf("ingest: %w", session.ErrNothingStored)
			}
			return nil
		},
	}

	return cmd
}

// printReport writes one line per file with its chunk count or failure.
func printReport(cmd *cobra.Command, report *session.UploadReport) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCHUNKS\tSTATUS")
	for _, f := range report.Files {
		status := "ok"
		if !f.OK() {
			status = f.Error
			if len(f.Failed) > 0 && status == "" {
				status = fmt.Sprintf("%d chunks failed", len(f.Failed))
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Chunks, status)
	}
	_ = tw.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks, %d failures\n", report.Chunks(), report.Failures())
}
