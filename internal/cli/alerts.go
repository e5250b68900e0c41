package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var alertChatID int64

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert conditions",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add PAIR EXPRESSION",
	Short: "Register an alert, e.g. alerts add USD/EUR '>1.20'",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertChatID == 0 {
			return fmt.Errorf("--chat-id is required")
		}
		return getApp().AddAlert(cmd.Context(), alertChatID, args[0], args[1])
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts owned by a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertChatID == 0 {
			return fmt.Errorf("--chat-id is required")
		}
		return getApp().ListAlerts(cmd.Context(), alertChatID)
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Delete an alert by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertChatID == 0 {
			return fmt.Errorf("--chat-id is required")
		}
		return getApp().RemoveAlert(cmd.Context(), args[0], alertChatID)
	},
}

func init() {
	alertsCmd.PersistentFlags().Int64Var(&alertChatID, "chat-id", 0, "Owner chat id")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
}
