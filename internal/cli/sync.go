package cli

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a single refresh cycle on demand",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SyncOnce(cmd.Context())
	},
}
