package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"claimpay/pkg/config"
	"claimpay/services/claim"
)

const (
	keyTotal     = "stats:claims_awaiting_decision"
	keyPerPolicy = "stats:claims_awaiting_decision:%s"

	defaultInterval = time.Minute
)

// Store is the subset of the redis client the reporter writes through.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Reporter periodically publishes how many submitted claims are waiting for a
// decision, total and per policy, so the operations dashboard reads a cheap
// key instead of counting the claims table.
type Reporter struct {
	claims   *claim.Service
	store    Store
	interval time.Duration
}

type ReporterParams struct {
	fx.In
	Claims *claim.Service
	Redis  *redis.Client `optional:"true"`
	Config *config.Config
}

func NewReporter(p ReporterParams) *Reporter {
	interval := p.Config.Stats.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	var store Store
	if p.Redis != nil {
		store = p.Redis
	}
	return &Reporter{claims: p.Claims, store: store, interval: interval}
}

// Report takes one snapshot and publishes it.
func (r *Reporter) Report(ctx context.Context) error {
	counts, err := r.claims.AwaitingDecisionCounts(ctx)
	if err != nil {
		return err
	}

	var total int64
	fields := make([]zap.Field, 0, len(counts)+1)
	for tag, count := range counts {
		total += count
		fields = append(fields, zap.Int64(string(tag), count))

		if r.store != nil {
			if err := r.store.Set(ctx, fmt.Sprintf(keyPerPolicy, tag), count, 0).Err(); err != nil {
				return err
			}
		}
	}
	if r.store != nil {
		if err := r.store.Set(ctx, keyTotal, total, 0).Err(); err != nil {
			return err
		}
	}

	zap.L().Info("claims awaiting decision", append(fields, zap.Int64("total", total))...)
	return nil
}

func (r *Reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				zap.L().Warn("failed to report claim stats", zap.Error(err))
			}
		}
	}
}

// Register starts the reporter loop with the application lifecycle.
func Register(lc fx.Lifecycle, r *Reporter) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Module("stats.module",
	fx.Provide(NewReporter),
	fx.Invoke(Register),
)
