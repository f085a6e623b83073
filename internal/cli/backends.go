package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vjohannesb/majordomo/pkg/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show backend availability and which one would be selected",
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	probes := []struct {
		name    string
		backend backend.Backend
	}{
		{"anthropic", backend.NewAnthropicBackend(os.Getenv("ANTHROPIC_API_KEY"), cfg.Backend.Model)},
		{"openai", backend.NewOpenAIBackend(os.Getenv("OPENAI_API_KEY"), cfg.Backend.Model)},
		{"ollama", backend.NewOllamaBackend(cfg.Backend.Endpoint, cfg.Backend.Model)},
		{"cli", backend.NewCLIBackend(cfg.Backend.CLIPath, cfg.Backend.Model)},
	}

	for _, probe := range probes {
		status := "unavailable"
		if probe.backend.IsConfigured() {
			status = "available"
		}
		fmt.Printf("%-10s %s\n", probe.name, status)
	}

	selected, err := backend.Select(selectorOptions(cfg))
	if err != nil {
		fmt.Printf("\nSelected: none (%v)\n", err)
		return nil
	}
	fmt.Printf("\nSelected: %s\n", selected.Name())

	return nil
}
