// Command billingctl runs billing operations against the configured stores.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app"
	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
)

func loadApp(ctx context.Context) (*services, func(), error) {
	var (
		engine *billing.Engine
		rec    *reconcile.Service
	)
	a := fx.New(app.CoreModule, fx.NopLogger, fx.Populate(&engine, &rec))
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return nil, nil, err
	}
	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}
	return &services{renewer: engine, reconciler: rec}, stop, nil
}

func main() {
	if err := newRootCmd(loadApp).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
