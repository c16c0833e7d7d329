package cli

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"case-mail-router/internal/app"
	"case-mail-router/internal/model"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage historical email sync jobs",
	}
	cmd.AddCommand(newSyncTriggerCmd())
	return cmd
}

func newSyncTriggerCmd() *cobra.Command {
	var (
		caseID  string
		contact string
		user    string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Backfill past mail with a case contact and wait for it to finish",
		Long: "Creates a history sync job for the contact, or for every contact of the case when --contact\n" +
			"is omitted, and runs it in this process. An already active job is reused.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, prometheus.NewRegistry(), app.Options{Mailbox: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Sync == nil {
				return errors.New("history sync requires gmail.enabled")
			}

			ctx := cmd.Context()
			var jobs []*model.HistoricalEmailSyncJob
			if contact != "" {
				job, _, err := a.Sync.Trigger(ctx, caseID, contact, user)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
			} else {
				c, err := a.Repo.GetCase(ctx, caseID)
				if err != nil {
					return fmt.Errorf("case %s: %w", caseID, err)
				}
				if jobs, err = a.Sync.TriggerContacts(ctx, c, user); err != nil {
					return err
				}
			}

			var results []*model.HistoricalEmailSyncJob
			for _, job := range jobs {
				if err := a.Sync.Run(ctx, job.ID); err != nil {
					return err
				}
				done, err := a.Repo.GetSyncJob(ctx, job.ID)
				if err != nil {
					return err
				}
				results = append(results, done)
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case ID")
	cmd.Flags().StringVar(&contact, "contact", "", "contact email address")
	cmd.Flags().StringVar(&user, "user", model.LinkedBySystem, "user recorded as the requester")
	cmd.MarkFlagRequired("case")
	return cmd
}
