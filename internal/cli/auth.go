package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"case-mail-router/internal/config"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Mailbox authorization helpers",
	}
	cmd.AddCommand(newAuthTokenCmd())
	return cmd
}

// gmailOAuthConfig requests read access for polling and history sync, and send
// access for the gmail notifier
func gmailOAuthConfig(cfg config.GmailConfig, redirect string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  redirect,
	}
}

func newAuthTokenCmd() *cobra.Command {
	var redirect string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a Gmail refresh token through the OAuth consent flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			// validation is skipped: the refresh token is what is missing
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			if cfg.Gmail.ClientID == "" || cfg.Gmail.ClientSecret == "" {
				return errors.New("set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET first")
			}

			oc := gmailOAuthConfig(cfg.Gmail, redirect)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Go to the following link in your browser: %v\n", oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline))
			fmt.Fprintln(out, "\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")
			fmt.Fprint(out, "\nEnter the authorization code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && code == "" {
				return fmt.Errorf("failed to read authorization code: %w", err)
			}

			tok, err := oc.Exchange(cmd.Context(), strings.TrimSpace(code))
			if err != nil {
				return fmt.Errorf("unable to retrieve token: %w", err)
			}
			if tok.RefreshToken == "" {
				return errors.New("no refresh token returned; revoke the app's access and retry")
			}

			fmt.Fprintln(out, "\nAdd the refresh token to your environment variables:")
			fmt.Fprintf(out, "export GMAIL_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&redirect, "redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	return cmd
}
