package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/validation"
)

// newAuthCmd returns the auth command with subcommands
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth",
		Aliases: []string{"au"},
		Short:   "Manage credentials",
		Long:    "Store realtime, snapshot and e-mail credentials securely in your OS keychain.",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	cmd.AddCommand(newAuthUseCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		account config.Account
		envFile string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save credentials to the keychain",
		Long: strings.TrimSpace(`
Save credentials securely to your OS keychain under a profile (--profile,
default "default"). The saved profile becomes the active one.

Required:
- Realtime URL: the project URL (e.g. https://xyz.example.co)
- API key: the project's public API key
- User id: your own user id, used to ignore your own messages

Optional:
- Snapshot token: bearer token for the snapshot HTTP API (defaults to the API key)
- Postgres DSN: for snapshot.source: postgres
- Resend API key and from address: for od notify
`),
		Example: strings.TrimSpace(`
  od auth login --realtime-url https://xyz.example.co --api-key KEY --user-id u_12

  # Load OD_* values from a .env file into the "staging" profile
  od auth login --env-file .env.staging --profile staging
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				values, err := godotenv.Read(envFile)
				if err != nil {
					return fmt.Errorf("failed to read --env-file %q: %w", envFile, err)
				}
				fillAccountFromEnv(&account, values)
			}

			account.RealtimeURL = strings.TrimSuffix(strings.TrimSpace(account.RealtimeURL), "/")
			if err := account.Validate(); err != nil {
				return fmt.Errorf("%w (use --realtime-url, --api-key and --user-id)", err)
			}
			if err := validation.Endpoint(account.RealtimeURL, "http", "https", "ws", "wss"); err != nil {
				return fmt.Errorf("invalid realtime url: %w", err)
			}
			if _, err := realtime.EndpointURL(account.RealtimeURL, account.APIKey); err != nil {
				return fmt.Errorf("invalid realtime url: %w", err)
			}
			if (account.ResendAPIKey == "") != (account.FromEmail == "") {
				return errors.New("--resend-api-key and --from-email must be set together")
			}
			if account.FromEmail != "" {
				if err := validation.Email(account.FromEmail); err != nil {
					return fmt.Errorf("invalid --from-email: %w", err)
				}
			}

			profile := profileOrDefault()
			if err := config.SaveProfile(profile, account); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"profile": profile, "account": account.Redacted()})
			}
			printText(cmd, "Credentials saved to profile %s\n", profile)
			printText(cmd, "  Realtime URL: %s\n", account.RealtimeURL)
			printText(cmd, "  User ID: %s\n", account.UserID)
			if account.CanEmail() {
				printText(cmd, "  E-mail from: %s\n", account.FromEmail)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&account.RealtimeURL, "realtime-url", "", "Project URL for the realtime channel")
	cmd.Flags().StringVar(&account.APIKey, "api-key", "", "Project API key")
	cmd.Flags().StringVar(&account.UserID, "user-id", "", "Your user id")
	cmd.Flags().StringVar(&account.SnapshotToken, "snapshot-token", "", "Bearer token for the snapshot API")
	cmd.Flags().StringVar(&account.PostgresDSN, "postgres-dsn", "", "Postgres connection string for snapshots")
	cmd.Flags().StringVar(&account.ResendAPIKey, "resend-api-key", "", "Resend API key for e-mail notifications")
	cmd.Flags().StringVar(&account.FromEmail, "from-email", "", "Sender address for e-mail notifications")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Read OD_* values from a .env file (flags win)")
	return cmd
}

// fillAccountFromEnv sets empty account fields from .env values.
func fillAccountFromEnv(a *config.Account, values map[string]string) {
	fields := map[string]*string{
		config.EnvRealtimeURL:   &a.RealtimeURL,
		config.EnvAPIKey:        &a.APIKey,
		config.EnvUserID:        &a.UserID,
		config.EnvSnapshotToken: &a.SnapshotToken,
		config.EnvPostgresDSN:   &a.PostgresDSN,
		config.EnvResendAPIKey:  &a.ResendAPIKey,
		config.EnvFromEmail:     &a.FromEmail,
	}
	for key, field := range fields {
		if *field == "" {
			*field = strings.TrimSpace(values[key])
		}
	}
}

func profileOrDefault() string {
	if p := strings.TrimSpace(flags.Profile); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvProfile)); p != "" {
		return p
	}
	return "default"
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active credentials",
		Long:  "Display the active credentials with secrets masked.",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			usingEnv := strings.TrimSpace(os.Getenv(config.EnvRealtimeURL)) != "" && flags.Profile == ""

			account, err := config.Resolve(flags.Profile)
			if err != nil {
				if errors.Is(err, config.ErrNotConfigured) {
					if isJSON(cmd) {
						return printJSON(cmd, map[string]any{
							"authenticated": false,
							"message":       "Not authenticated. Run 'od auth login' to configure credentials.",
						})
					}
					printText(cmd, "Not authenticated.\nRun 'od auth login' to configure credentials.\n")
					return nil
				}
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			source := "keychain"
			profile := flags.Profile
			if usingEnv {
				source, profile = "env", ""
			} else if profile == "" {
				profile, _ = config.CurrentProfile()
			}

			if isJSON(cmd) {
				payload := map[string]any{
					"authenticated": true,
					"source":        source,
					"account":       account.Redacted(),
					"email":         account.CanEmail(),
				}
				if profile != "" {
					payload["profile"] = profile
				}
				return printJSON(cmd, payload)
			}

			r := account.Redacted()
			printText(cmd, "Authenticated (%s)\n", source)
			if profile != "" {
				printText(cmd, "  Profile: %s\n", profile)
			}
			printText(cmd, "  Realtime URL: %s\n", r.RealtimeURL)
			printText(cmd, "  API Key: %s\n", r.APIKey)
			printText(cmd, "  User ID: %s\n", r.UserID)
			if r.SnapshotToken != "" {
				printText(cmd, "  Snapshot Token: %s\n", r.SnapshotToken)
			}
			if r.PostgresDSN != "" {
				printText(cmd, "  Postgres DSN: %s\n", r.PostgresDSN)
			}
			if account.CanEmail() {
				printText(cmd, "  E-mail: %s via Resend (%s)\n", r.FromEmail, r.ResendAPIKey)
			} else {
				printText(cmd, "  E-mail: not configured\n")
			}
			return nil
		}),
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove credentials from the keychain",
		Long:  "Delete the stored credentials of --profile (default: the active profile).",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profile := flags.Profile
			if profile == "" {
				current, err := config.CurrentProfile()
				if err != nil {
					return err
				}
				profile = current
			}
			if _, err := config.LoadProfile(profile); errors.Is(err, config.ErrNotConfigured) {
				printText(cmd, "No credentials found.\n")
				return nil
			}
			if err := config.DeleteProfile(profile); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"removed": profile})
			}
			printText(cmd, "Profile %s removed.\n", profile)
			return nil
		}),
	}
}

func newAuthProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profiles, err := config.ListProfiles()
			if err != nil {
				return err
			}
			current, _ := config.CurrentProfile()
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"current": current, "profiles": profiles})
			}
			if len(profiles) == 0 {
				printText(cmd, "No profiles saved.\n")
				return nil
			}
			for _, p := range profiles {
				marker := " "
				if p == current {
					marker = "*"
				}
				printText(cmd, "%s %s\n", marker, p)
			}
			return nil
		}),
	}
}

func newAuthUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Switch the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadProfile(args[0]); err != nil {
				return err
			}
			if err := config.SetCurrentProfile(args[0]); err != nil {
				return err
			}
			printText(cmd, "Active profile: %s\n", args[0])
			return nil
		}),
	}
}
