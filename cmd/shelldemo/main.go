// Command shelldemo composes the full session stack against a console
// "WebView" that prints injected scripts instead of executing them. It runs
// the startup sequence, performs a PIN login, and logs out, demonstrating
// the composition-root wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/appfold/sessionbridge/authclient"
	"github.com/appfold/sessionbridge/config"
	"github.com/appfold/sessionbridge/device"
	"github.com/appfold/sessionbridge/internal/crypto"
	"github.com/appfold/sessionbridge/log"
	"github.com/appfold/sessionbridge/platform"
	"github.com/appfold/sessionbridge/session"
	"github.com/appfold/sessionbridge/store"
	redisstore "github.com/appfold/sessionbridge/store/redis"
	"github.com/appfold/sessionbridge/webview"
)

// consoleView implements webview.WebView by summarizing injected scripts.
type consoleView struct {
	id string
}

func (v *consoleView) ID() string { return v.id }

func (v *consoleView) ExecuteScript(_ context.Context, script string) error {
	preview := script
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	fmt.Printf("[%s] inject: %s\n", v.id, preview)
	return nil
}

func (v *consoleView) Reload(context.Context) error {
	fmt.Printf("[%s] reload\n", v.id)
	return nil
}

// buildStore selects the credential backend: the local encrypted file by
// default, or Redis when REDIS_ADDR is set (hosted deployments).
func buildStore(cfg *config.Config) (store.CredentialStore, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redisstore.NewStore(client, cfg.RedisPrefix), nil
	}
	secret, err := loadOrCreateSecret(cfg.StorePath + ".key")
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(cfg.StorePath, secret), nil
}

// loadOrCreateSecret keeps the file-store secret stable across runs. A real
// mobile embedder would source this from the platform keychain instead.
func loadOrCreateSecret(path string) ([]byte, error) {
	if secret, err := os.ReadFile(path); err == nil && len(secret) >= 32 {
		return secret, nil
	}
	secret, err := crypto.RandomSecret(32)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func main() {
	pin := flag.String("pin", "135790", "PIN to log in with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	ctx := context.Background()

	credStore, err := buildStore(cfg)
	if err != nil {
		logger.Error(ctx, "credential store setup failed", err)
		os.Exit(1)
	}

	client := authclient.New(authclient.Options{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         cfg.HTTPTimeout(),
		OptionsCacheTTL: cfg.OptionsCacheTTL(),
		Logger:          logger,
	})
	defer client.Close()

	broadcaster := webview.NewBroadcaster(logger, cfg.ReloadDelay())
	identity := device.NewIdentity(credStore, platform.CurrentInfo(), logger)
	prompter := platform.Approved()

	manager := session.NewManager(credStore, client, broadcaster, prompter,
		identity, logger, session.Options{
			Watchdog:       cfg.StartupWatchdog(),
			CoalesceWindow: cfg.CoalesceWindow(),
		})
	defer manager.Close()

	view := &consoleView{id: "main"}
	broadcaster.Register(view)
	defer broadcaster.Unregister(view)

	phase := manager.Start(ctx)
	logger.Info(ctx, "startup finished", map[string]interface{}{"phase": string(phase)})

	manager.NotifyContentReady(ctx)

	result := manager.PINLogin(ctx, *pin)
	if !result.Success {
		logger.Warn(ctx, "pin login failed", map[string]interface{}{"error": result.Error})
	} else {
		email := ""
		if result.Session != nil && result.Session.User != nil {
			email = result.Session.User.Email
		}
		logger.Info(ctx, "logged in", map[string]interface{}{"email": email})

		// The refresh token is the device-risky secret; read it back
		// through the prompt-gated store variant.
		gated := store.NewAuthenticatedStore(credStore, prompter)
		if rt, err := gated.GetAuthenticated(ctx, store.KeyRefreshToken); err != nil {
			logger.Warn(ctx, "protected read denied", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Info(ctx, "protected read ok", map[string]interface{}{"refresh_token_bytes": len(rt)})
		}

		if email != "" {
			enabled, err := client.PINStatus(ctx, email)
			if err != nil {
				logger.Warn(ctx, "pin status lookup failed", map[string]interface{}{"error": err.Error()})
			} else {
				logger.Info(ctx, "pin status", map[string]interface{}{"enabled": enabled})
			}

			msg, err := client.SetupBiometric(ctx, result.Session.AccessToken, email,
				identity.Get(ctx).ID, "shelldemo", platform.CurrentInfo().Name, "biometric")
			if err != nil {
				logger.Warn(ctx, "biometric setup failed", map[string]interface{}{"error": err.Error()})
			} else {
				logger.Info(ctx, "biometric setup", map[string]interface{}{"message": msg})
			}
		}
	}

	manager.Logout(ctx, false)
	logger.Info(ctx, "logged out")
}
