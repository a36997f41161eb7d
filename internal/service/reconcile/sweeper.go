package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const (
	defaultInterval  = 5 * time.Minute
	defaultMinAge    = 15 * time.Minute
	defaultBatchSize = 100

	// ReasonSweeperCanceled — причина в timeline, когда сессию освобождает sweeper.
	ReasonSweeperCanceled = "sweeper: session canceled at processor"
)

// Checkout — операции сверки, которые нужны sweeper.
type Checkout interface {
	Settle(ctx context.Context, sessionID string) (checkout.Settlement, error)
	Expire(ctx context.Context, sessionID, reason string) error
}

// PendingLister возвращает корзины с незавершённой checkout-сессией.
type PendingLister interface {
	ListPendingSessions(ctx context.Context, olderThan time.Time, limit int) ([]domain.PendingSession, error)
}

// Options задаёт параметры sweeper.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.CheckoutMetrics
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
	Clock     func() time.Time
}

// Option настраивает Sweeper.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics подключает счётчик storefront_pending_sweeps_total.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// WithMinAge задаёт минимальный возраст pending-сессии: более свежие ещё ждут редиректа или webhook.
func WithMinAge(minAge time.Duration) Option {
	return func(opts *Options) { opts.MinAge = minAge }
}

// WithBatchSize ограничивает число сессий за проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Result — итог одного прохода.
type Result struct {
	Checked  int
	Settled  int
	Released int
	Pending  int
	Failed   int
}

// Sweeper находит зависшие pending-сессии и прогоняет их через тот же reconciler,
// что и redirect с webhook. Так восстанавливаются заказы, для которых оба сигнала потерялись.
type Sweeper struct {
	checkout  Checkout
	pending   PendingLister
	metrics   *metrics.CheckoutMetrics
	logger    *log.Entry
	interval  time.Duration
	minAge    time.Duration
	batchSize int
	now       func() time.Time
}

// NewSweeper создаёт sweeper.
func NewSweeper(svc Checkout, pending PendingLister, options ...Option) *Sweeper {
	opts := Options{
		Interval:  defaultInterval,
		MinAge:    defaultMinAge,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "pending-session-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MinAge < 0 {
		opts.MinAge = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Sweeper{
		checkout:  svc,
		pending:   pending,
		metrics:   opts.Metrics,
		logger:    logger,
		interval:  opts.Interval,
		minAge:    opts.MinAge,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run выполняет проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.checkout == nil || s.pending == nil {
		s.logger.Warn("pending session sweeper is disabled: dependencies are nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce сверяет pending-сессии старше minAge.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	var result Result
	if ctx.Err() != nil {
		return result
	}

	cutoff := s.now().UTC().Add(-s.minAge)
	sessions, err := s.pending.ListPendingSessions(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list pending checkout sessions")
		return result
	}

	for _, pending := range sessions {
		if ctx.Err() != nil {
			break
		}
		result.Checked++
		outcome := s.sweep(ctx, pending)
		switch outcome {
		case "settled":
			result.Settled++
		case "released":
			result.Released++
		case "pending":
			result.Pending++
		default:
			result.Failed++
		}
		s.metrics.RecordSweep(outcome)
	}

	if result.Checked > 0 {
		s.logger.WithFields(log.Fields{
			"checked":  result.Checked,
			"settled":  result.Settled,
			"released": result.Released,
			"pending":  result.Pending,
			"failed":   result.Failed,
		}).Info("pending session sweep completed")
	}
	return result
}

func (s *Sweeper) sweep(ctx context.Context, pending domain.PendingSession) string {
	logger := s.logger.WithFields(log.Fields{
		"session_id": pending.SessionID,
		"user_id":    pending.UserID,
	})

	settlement, err := s.checkout.Settle(ctx, pending.SessionID)
	if err != nil {
		logger.WithError(err).Warn("failed to settle pending session")
		return "error"
	}

	switch settlement.Status {
	case domain.SessionStatusPaid:
		if settlement.Outcome == checkout.OutcomeNeedsReview {
			logger.Warn("paid session waits for catalog review")
			return "pending"
		}
		logger.WithFields(log.Fields{
			"order_id": settlement.OrderID,
			"outcome":  settlement.Outcome,
		}).Info("pending session settled by sweeper")
		return "settled"
	case domain.SessionStatusCanceled:
		if err := s.checkout.Expire(ctx, pending.SessionID, ReasonSweeperCanceled); err != nil {
			logger.WithError(err).Warn("failed to release canceled session")
			return "error"
		}
		return "released"
	default:
		return "pending"
	}
}
