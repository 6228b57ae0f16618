// Command authstub runs the in-memory auth server stub so the shell can be
// exercised locally without the real backend. It seeds one demo account
// with a PIN-registered device.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/appfold/sessionbridge/config"
	"github.com/appfold/sessionbridge/internal/crypto"
	"github.com/appfold/sessionbridge/internal/stubserver"
	"github.com/appfold/sessionbridge/log"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	deviceID := flag.String("device", "demo-device", "seeded device id")
	email := flag.String("email", "demo@example.com", "seeded account email")
	pin := flag.String("pin", "135790", "seeded device PIN")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	ctx := context.Background()

	secret, err := crypto.RandomSecret(32)
	if err != nil {
		logger.Error(ctx, "secret generation failed", err)
		os.Exit(1)
	}

	srv := stubserver.New(stubserver.Options{JWTSecret: secret, Logger: logger})
	defer srv.Close()

	srv.RegisterAccount("Demo User", *email)
	if err := srv.RegisterDevicePIN(*deviceID, *email, *pin); err != nil {
		logger.Error(ctx, "device seeding failed", err)
		os.Exit(1)
	}
	srv.EnablePasskey(*deviceID, *email)

	logger.Info(ctx, "auth stub listening", map[string]interface{}{
		"addr": *addr, "device": *deviceID, "email": *email,
	})
	if err := srv.Start(*addr); err != nil {
		logger.Error(ctx, "server stopped", err)
		os.Exit(1)
	}
}
