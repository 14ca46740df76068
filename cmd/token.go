package cmd

import (
	"fmt"
	"time"

	"chronicle/api"
	"chronicle/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loadConfig reads config.yaml and CHRONICLE_* variables, honoring --config
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configFile != "" {
		viper.SetConfigFile(opts.configFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

type tokenOutput struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Sign a bearer token for the management and ingest API with the configured
JWT secret (auth.jwt_secret or CHRONICLE_JWT_SECRET).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := api.GenerateToken(cfg.Auth, subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, tokenOutput{Token: token, Subject: subject, ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second)})
			}
			if !cfg.Auth.Enabled {
				warningColor.Fprintln(cmd.ErrOrStderr(), "auth.enabled is false, the API will not require this token")
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Caller name recorded in the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
