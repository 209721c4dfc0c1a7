// Package commands defines all Cobra CLI commands for the docchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/audit"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/store"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// conversationID holds the --conversation flag value shared by every command
// that reads or writes the transcript.
var conversationID string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "docchat answers questions about your documents",
		Long: `docchat is a retrieval-augmented chat assistant for PDF, DOC and DOCX files.

Uploaded documents are split into overlapping chunks, embedded and stored in
a vector database. Each question retrieves the most similar chunks and asks
the selected language model to answer from that context only.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.docchat/config.yaml). A .env file in the working
directory is loaded first.
See 'docchat --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv("", log); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docchat/config.yaml)")
	root.PersistentFlags().StringVar(&conversationID, "conversation", store.DefaultConversation, "Conversation ID the transcript is stored under")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewHistoryCmd(),
		NewModelsCmd(),
		NewVersionCmd(),
	)

	return root
}
