package main

import (
	"context"
	"time"

	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/push"
	"github.com/matst80/botwarden/internal/status"
	"github.com/matst80/botwarden/internal/supervisor"
)

// newPushSource connects the redis push backend when -push is set. A nil
// source means push forwarding is off.
func newPushSource() *push.RedisSource {
	if !cfg.Push {
		obs.Info("push.backend", obs.Fields{"type": "disabled"})
		return nil
	}
	obs.Info("push.backend", obs.Fields{"type": "redis", "addr": cfg.RedisAddr, "key": cfg.PushKey})
	src, err := push.NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PushKey)
	if err != nil {
		obs.Error("push.backend", obs.Fields{"err": err})
		return nil
	}
	return src
}

func pushReceivers(src *push.RedisSource) []supervisor.Receiver {
	if src == nil {
		return nil
	}
	return []supervisor.Receiver{push.NewReceiver(src, cfg.PushRate, max(cfg.PushRate*2, 1))}
}

// runStatusPublisher stores the status report in redis until ctx ends.
func runStatusPublisher(ctx context.Context, src *push.RedisSource, report func() status.Report, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := src.PublishStatus(ctx, report()); err != nil && ctx.Err() == nil {
				obs.Error("push.status.publish", obs.Fields{"err": err, "key": src.StatusKey()})
				obs.ErrorsTotal.WithLabelValues("status_publish").Inc()
			}
		}
	}
}
