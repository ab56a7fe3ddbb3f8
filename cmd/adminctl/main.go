// Command adminctl is the operator CLI for the admin panel: bootstrap the
// first administrator, mint and revoke CLI tokens, issue recovery tokens,
// rotate the admin base path and run the expiry sweep.
//
// Configuration comes from PANELAUTH_* environment variables (see
// panelauth.LoadConfig). Secrets may be passed as flags or through
// PANELAUTH_CLI_TOKEN and PANELAUTH_CLI_PASSWORD to keep them out of shell
// history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/panelauth/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, func(ctx context.Context) (Backend, func(), error) {
		a, err := app.Open(ctx)
		if err != nil {
			return Backend{}, nil, fmt.Errorf("open: %w", err)
		}
		return Backend{Engine: a.Engine, Directory: a.Store}, a.Close, nil
	}))
}
