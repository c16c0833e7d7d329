package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"case-mail-router/internal/app"
)

func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Manage document request reminders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Send every document request and reminder due today",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, prometheus.NewRegistry(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.Reminders.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	})
	return cmd
}
