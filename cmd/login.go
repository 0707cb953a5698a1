package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Opens a visible browser to sign in and saves the session cookies",
		Long: `Opens Chrome with a window at browser.login_url and clicks the sign-in
control. Once you are signed in and back on Maps, the session cookies are
written to browser.cookie_file for later crawls. Gives up after
browser.login_timeout.`,
		Annotations: map[string]string{skipServices: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := env.cfg.Browser
			bcfg := browserConfig(cfg)
			bcfg.Headless = false

			session, err := browser.New(bcfg, nil, env.logger)
			if err != nil {
				return fmt.Errorf("start browser: %w", err)
			}
			defer session.Close()

			cookies, err := session.SignIn(cmd.Context(), cfg.LoginURL, cfg.LoginTimeout)
			if err != nil {
				return err
			}
			data, err := browser.EncodeCookies(cookies)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfg.CookieFile, data, 0o600); err != nil {
				return fmt.Errorf("write cookie file: %w", err)
			}
			env.logger.Info("saved session cookies",
				zap.String("path", cfg.CookieFile),
				zap.Int("cookies", len(cookies)),
			)
			return nil
		},
	}
}
