package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

const (
	DefaultFailureThreshold = 5
	DefaultOpenTTL          = 2 * time.Minute
)

// Breaker keeps one circuit per provider. A run of consecutive session
// failures opens it; after openTTL one trial session is let through half-open.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[domain.Provider]*gobreaker.TwoStepCircuitBreaker
	threshold uint32
	openTTL   time.Duration
	log       zerolog.Logger
}

func NewBreaker(threshold int, openTTL time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if openTTL <= 0 {
		openTTL = DefaultOpenTTL
	}
	return &Breaker{
		circuits:  make(map[domain.Provider]*gobreaker.TwoStepCircuitBreaker),
		threshold: uint32(threshold),
		openTTL:   openTTL,
		log:       zerolog.Nop(),
	}
}

func (b *Breaker) WithLogger(log zerolog.Logger) *Breaker {
	b.log = log
	return b
}

func (b *Breaker) get(p domain.Provider) *gobreaker.TwoStepCircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.circuits[p]
	if !ok {
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        string(p),
			MaxRequests: 1,
			Timeout:     b.openTTL,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				b.log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
			},
		})
		b.circuits[p] = cb
	}
	return cb
}

func (b *Breaker) State(p domain.Provider) CircuitState {
	switch b.get(p).State() {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	}
	return CircuitClosed
}

// Allow is false only while the circuit is fully open.
func (b *Breaker) Allow(p domain.Provider) bool {
	return b.State(p) != CircuitOpen
}

// Record counts one session outcome. Outcomes that arrive while the circuit
// rejects requests are dropped.
func (b *Breaker) Record(p domain.Provider, ok bool) {
	done, err := b.get(p).Allow()
	if err != nil {
		return
	}
	done(ok)
}
