package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/messaging"
	"github.com/alexsandroveiga/pasarela/src/metrics"
)

var (
	WorkerCount = 4
	MaxRetries  = 5
	RetryDelay  = 200 * time.Millisecond
)

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb domain.ProviderCallback) (domain.PaymentIntent, error)
}

// CallbackPool drains the callback queue with a fixed set of goroutines.
type CallbackPool struct {
	queue   messaging.CallbackQueue
	handler CallbackHandler
	workers int
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewCallbackPool(queue messaging.CallbackQueue, handler CallbackHandler, workers int, log zerolog.Logger) *CallbackPool {
	if workers <= 0 {
		workers = WorkerCount
	}
	return &CallbackPool{queue: queue, handler: handler, workers: workers, log: log}
}

// Start returns immediately; the workers stop when ctx is done.
func (p *CallbackPool) Start(ctx context.Context) {
	for i := range p.workers {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			log := p.log.With().Int("worker", id).Logger()
			for {
				cb, err := p.queue.Consume(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error().Err(err).Msg("consume callback")
					sleep(ctx, RetryDelay)
					continue
				}
				p.process(ctx, log, cb)
			}
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *CallbackPool) Wait() {
	p.wg.Wait()
}

func (p *CallbackPool) process(ctx context.Context, log zerolog.Logger, cb domain.ProviderCallback) {
	intent, err := p.handler.HandleCallback(ctx, cb)
	result := classify(err)
	metrics.CallbacksProcessed.WithLabelValues(string(cb.Provider), result).Inc()

	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("callbackId", cb.ID).
		Str("provider", string(cb.Provider)).
		Str("event", string(cb.Event)).
		Str("intentId", intent.ID).
		Str("result", result).
		Msg("callback processed")

	if result != "retry" {
		return
	}
	cb.Attempts++
	if cb.Attempts >= MaxRetries {
		log.Error().Str("callbackId", cb.ID).Int("attempts", cb.Attempts).Msg("callback dropped after retries")
		return
	}
	go func(cb domain.ProviderCallback) {
		if !sleep(ctx, RetryDelay) {
			return
		}
		if err := p.queue.Produce(context.WithoutCancel(ctx), cb); err != nil {
			log.Error().Err(err).Str("callbackId", cb.ID).Msg("requeue callback")
		}
	}(cb)
}

// classify separates callbacks worth retrying from ones that can never apply.
func classify(err error) string {
	var (
		illegal    *domain.IllegalTransitionError
		validation *domain.ValidationError
	)
	switch {
	case err == nil:
		return "applied"
	case errors.As(err, &illegal):
		return "rejected"
	case errors.As(err, &validation), errors.Is(err, domain.ErrIntentNotFound):
		return "dropped"
	}
	return "retry"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
