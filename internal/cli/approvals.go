package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjohannesb/majordomo/pkg/tools"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage tool approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests and approved tools",
	Args:  cobra.NoArgs,
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <code>",
	Short: "Approve a pending tool request by code",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsApprove,
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <code>",
	Short: "Deny a pending tool request by code",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsDeny,
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func loadApprovals() (*tools.PendingStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openPendingStore(cfg)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	pending, err := loadApprovals()
	if err != nil {
		return err
	}
	defer pending.Stop()

	requests := pending.Pending()
	if len(requests) == 0 {
		cmd.Println("No pending approval requests.")
	} else {
		cmd.Println("Pending approval requests:")
		for _, req := range requests {
			remaining := time.Until(req.ExpiresAt).Round(time.Second)
			if remaining < 0 {
				remaining = 0
			}
			cmd.Printf("- code: %s | tool: %s | expires in: %s\n", req.Code, req.Tool, remaining)
		}
	}

	if approved := pending.Approved(); len(approved) > 0 {
		cmd.Printf("Approved tools: %s\n", strings.Join(approved, ", "))
	}
	return nil
}

func runApprovalsApprove(cmd *cobra.Command, args []string) error {
	pending, err := loadApprovals()
	if err != nil {
		return err
	}
	defer pending.Stop()

	tool, err := pending.Approve(strings.ToUpper(strings.TrimSpace(args[0])))
	if err != nil {
		return err
	}
	cmd.Printf("Approved tool %s.\n", tool)
	return nil
}

func runApprovalsDeny(cmd *cobra.Command, args []string) error {
	pending, err := loadApprovals()
	if err != nil {
		return err
	}
	defer pending.Stop()

	tool, err := pending.Deny(strings.ToUpper(strings.TrimSpace(args[0])))
	if err != nil {
		return err
	}
	cmd.Printf("Denied tool %s.\n", tool)
	return nil
}
