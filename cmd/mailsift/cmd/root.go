package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"mailsift/internal/config"
	"mailsift/internal/gmail"
	"mailsift/internal/oauth"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailsift",
	Short: "Gmail mailbox mirror and label automation tool",
	Long: `mailsift keeps a local SQLite mirror of a Gmail mailbox and automates
label maintenance: syncing new and changed messages, tombstoning mail
that disappeared remotely, filing messages with sender rules, and
stripping labels in bulk.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Data.DataDir, 0700); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newOAuthManager validates client secrets configuration and builds
// the OAuth manager.
func newOAuthManager() (*oauth.Manager, error) {
	if cfg.OAuth.ClientSecrets == "" {
		return nil, fmt.Errorf(`OAuth client secrets not configured.

Create a Google Cloud OAuth credential, download client_secret.json,
and add to your config file:
  [oauth]
  client_secrets = "/path/to/client_secret.json"`)
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("OAuth client secrets file not accessible: %w", err)
		}
		return nil, err
	}
	return mgr, nil
}

// tokenSourceWithReauth gets a token source, re-running the browser
// flow when the stored token turns out to be expired or revoked.
func tokenSourceWithReauth(ctx context.Context, mgr *oauth.Manager, email string) (oauth2.TokenSource, error) {
	ts, err := mgr.TokenSource(ctx, email)
	if err == nil {
		return ts, nil
	}

	if !mgr.HasToken(email) {
		return nil, fmt.Errorf("get token source: %w (run 'add-account %s' first)", err, email)
	}

	fmt.Printf("Token for %s is expired or revoked. Re-authorizing...\n", email)
	if delErr := mgr.DeleteToken(email); delErr != nil {
		return nil, fmt.Errorf("delete expired token: %w", delErr)
	}
	if authErr := mgr.Authorize(ctx, email); authErr != nil {
		return nil, fmt.Errorf("re-authorize %s: %w", email, authErr)
	}

	ts, err = mgr.TokenSource(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get token source after re-authorization: %w", err)
	}
	return ts, nil
}

// newDirectory opens an authenticated Gmail client for the account.
// The caller owns Close.
func newDirectory(ctx context.Context, email string) (gmail.Directory, error) {
	mgr, err := newOAuthManager()
	if err != nil {
		return nil, err
	}

	ts, err := tokenSourceWithReauth(ctx, mgr, email)
	if err != nil {
		return nil, err
	}

	return gmail.NewClient(ts,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Sync.RateLimitQPS))),
	), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailsift/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
