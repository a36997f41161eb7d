package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

// runtimeDependencies содержит хранилища и внешние клиенты, открытые при старте.
type runtimeDependencies struct {
	cartRepo        domain.CartRepository
	orderRepo       domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers []namedChecker
	closers  []namedCloser
}

type namedChecker struct {
	name    string
	checker healthcheck.Checker
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

func (d *runtimeDependencies) addChecker(name string, checker healthcheck.Checker) {
	d.checkers = append(d.checkers, namedChecker{name: name, checker: checker})
}

func (d *runtimeDependencies) addCloser(name string, fn func(ctx context.Context) error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

// registerCheckers добавляет проверки зависимостей в health handler.
func (d *runtimeDependencies) registerCheckers(h *healthcheck.Handler) {
	for _, c := range d.checkers {
		h.RegisterChecker(c.name, c.checker)
	}
}

// close закрывает зависимости в обратном порядке открытия.
func (d *runtimeDependencies) close(ctx context.Context, logger *log.Entry) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(ctx); err != nil {
			logger.WithError(err).WithField("dependency", c.name).Warn("failed to close dependency")
			errs = append(errs, err)
			continue
		}
		logger.WithField("dependency", c.name).Debug("dependency closed")
	}
	d.closers = nil
	return errors.Join(errs...)
}
