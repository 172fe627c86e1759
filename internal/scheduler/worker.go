package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"serviceflow_backend/internal/accounts"
	"serviceflow_backend/internal/followup"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const defaultSweepLimit = 100

type attemptLog interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type accountLister interface {
	ListWithUsableTokens(ctx context.Context, limit int) ([]accounts.Account, error)
}

type tokenRefresher interface {
	ValidAccessToken(ctx context.Context, account *accounts.Account) (string, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	attempts  attemptLog
	accounts  accountLister
	tokens    tokenRefresher
	retention time.Duration
	log       *logger.Logger
}

func NewWorker(cfg interface {
	config.SchedulerConfig
	config.JobberConfig
}, pool *pgxpool.Pool, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	accountRepo := accounts.NewRepository(pool)
	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		attempts:  followup.NewRepository(pool),
		accounts:  accountRepo,
		tokens:    accounts.NewTokenManager(accountRepo, cfg, nil, log),
		retention: cfg.GetDedupLogRetention(),
		log:       log,
	}

	mux.HandleFunc(TaskDedupLogCleanup, w.handleDedupLogCleanup)
	mux.HandleFunc(TaskTokenRefreshSweep, w.handleTokenRefreshSweep)

	return w, nil
}

// handleDedupLogCleanup trims attempt-log rows past the retention window.
// Processed-visit markers are kept forever; only the audit log is trimmed.
func (w *Worker) handleDedupLogCleanup(ctx context.Context, _ *asynq.Task) error {
	retention := w.retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-retention)

	deleted, err := w.attempts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	w.log.Info("dedup log cleanup",
		"deleted", deleted,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return nil
}

// handleTokenRefreshSweep refreshes near-expiry credentials ahead of webhook
// traffic, so sends don't pay the refresh round-trip inline. Per-account
// failures are logged and skipped; a rejected refresh has already flagged
// the account.
func (w *Worker) handleTokenRefreshSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTokenRefreshSweepPayload(task)
	if err != nil {
		return err
	}
	limit := payload.Limit
	if limit < 1 {
		limit = defaultSweepLimit
	}

	list, err := w.accounts.ListWithUsableTokens(ctx, limit)
	if err != nil {
		return err
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range list {
		account := &list[i]
		g.Go(func() error {
			if _, err := w.tokens.ValidAccessToken(gctx, account); err != nil {
				w.log.Warn("token sweep skipped account",
					"account_id", account.JobberAccountID, "error", err.Error())
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	w.log.Info("token refresh sweep", "checked", len(list), "usable", refreshed.Load())
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// NewPeriodic builds the cron-style scheduler that feeds the worker queue.
// The cleanup runs hourly and the credential sweep every 30 minutes.
func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*asynq.Scheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	if _, err := sched.Register("@every 1h", NewDedupLogCleanupTask(), asynq.Queue(queue)); err != nil {
		return nil, err
	}
	sweep, err := NewTokenRefreshSweepTask(TokenRefreshSweepPayload{Limit: defaultSweepLimit})
	if err != nil {
		return nil, err
	}
	if _, err := sched.Register("@every 30m", sweep, asynq.Queue(queue)); err != nil {
		return nil, err
	}

	log.Info("periodic scheduler configured", "queue", queue)
	return sched, nil
}
