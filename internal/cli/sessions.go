package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vjohannesb/majordomo/pkg/backend"
	"github.com/vjohannesb/majordomo/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Compact a session's history",
	Long: `Replace a long session's oldest messages with a summary, keeping the
most recent messages verbatim. Sessions below the threshold are left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsCompact,
}

var sessionsRepairCmd = &cobra.Command{
	Use:   "repair <session-id>",
	Short: "Rewrite a session file, dropping corrupted lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsRepair,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCompactCmd)
	sessionsCmd.AddCommand(sessionsRepairCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionStore() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	summaries, err := store.List()
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %8s  %s\n", "ID", "UPDATED", "MESSAGES", "PREVIEW")
	for _, s := range summaries {
		fmt.Printf("%-36s  %-19s  %8d  %s\n",
			s.ID,
			s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			s.MessageCount,
			s.Preview,
		)
	}

	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	if err := store.Delete(args[0]); err != nil {
		return err
	}

	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func runSessionsCompact(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	if err := store.Compact(args[0], localSummarize); err != nil {
		return err
	}

	fmt.Printf("Compacted session %s\n", args[0])
	return nil
}

func runSessionsRepair(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	if err := store.Repair(args[0]); err != nil {
		return err
	}

	fmt.Printf("Repaired session %s\n", args[0])
	return nil
}

// localSummarize condenses dropped messages without a model round-trip:
// one truncated line per user turn plus a tally.
func localSummarize(dropped []backend.Message) (string, error) {
	var lines []string
	for _, msg := range dropped {
		if msg.Role != backend.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.TextContent())
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > 120 {
			text = string(runes[:120]) + "..."
		}
		lines = append(lines, "- "+text)
	}

	summary := fmt.Sprintf("%d earlier messages were summarized away.", len(dropped))
	if len(lines) > 0 {
		summary += " The user asked about:\n" + strings.Join(lines, "\n")
	}
	return summary, nil
}
