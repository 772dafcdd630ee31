package intentworker

import (
	"context"

	appconfig "github.com/onetimesecret/billing/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.intentworker",
	fx.Provide(FromAppConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker, cfg appconfig.Config) {
	if !cfg.IntentWorkerOn {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go worker.RunForever(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
