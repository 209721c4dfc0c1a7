package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/provider"
)

// NewModelsCmd constructs the `docchat models` command, which lists the
// selectable chat models and marks the default.
func NewModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models questions can be answered with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := provider.NewRegistry(provider.ConfigFromEnv(), provider.AllowlistFromEnv(), getEnvOrDefault("MODEL_DEFAULT", ""))
			if err != nil {
				return fmt.Errorf("models: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s\n", reg.Backend())
			for _, id := range reg.Models() {
				marker := " "
				if id == reg.Default() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, id)
			}
			return nil
		},
	}
}
