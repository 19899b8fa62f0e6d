package main

import (
	"context"
	"log/slog"
	"time"

	"broadcast-platform/internal/delivery"
	"broadcast-platform/pkg/logger"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}

// startReconciler runs the rollup reconciler on the cron schedule spec. Overlapping runs are skipped.
func startReconciler(spec string, rec *delivery.Reconciler, log *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{l: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(logger.With(context.Background(), log), time.Minute)
		defer cancel()
		n, err := rec.RunOnce(ctx)
		if err != nil {
			log.Error("rollup reconcile failed", "campaigns", n, "err", err)
			return
		}
		if n > 0 {
			log.Info("rollups reconciled", "campaigns", n)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
