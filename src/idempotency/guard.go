package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
)

const (
	DefaultTTL  = 24 * time.Hour
	DefaultWait = 10 * time.Second
)

// CreateFunc performs the real creation and returns the new intent id.
type CreateFunc func(ctx context.Context) (string, error)

// Guard makes creation idempotent per (merchant, key). Within one process
// concurrent callers share a single in-flight creation.
type Guard struct {
	store Store
	group singleflight.Group
	ttl   time.Duration
	wait  time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

func NewGuard(store Store, ttl, wait time.Duration, log zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Guard{store: store, ttl: ttl, wait: wait, now: time.Now, log: log}
}

type flight struct {
	record   Record
	replayed bool
}

// Do returns the intent id for this request and whether it was served from a
// previous creation.
func (g *Guard) Do(ctx context.Context, merchantID, key string, fp Fingerprint, create CreateFunc) (string, bool, error) {
	if key == "" {
		id, err := create(ctx)
		return id, false, err
	}

	if rec, ok, err := g.store.Get(ctx, merchantID, key); err != nil {
		return "", false, err
	} else if ok {
		return g.replay(key, fp, rec)
	}

	deadline := time.NewTimer(g.wait)
	defer deadline.Stop()

	for {
		ran := make(chan struct{})
		ch := g.group.DoChan(merchantID+"|"+key, func() (any, error) {
			close(ran)
			return g.execute(ctx, merchantID, key, fp, create)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			select {
			case <-ran:
				// this caller owns the creation and must see it through
				res = <-ch
			default:
				return "", false, domain.ErrCreationInProgress
			}
		}

		owner := isClosed(ran)
		if res.Err != nil {
			if !owner && isContextErr(res.Err) && ctx.Err() == nil {
				// the owner was cancelled before writing anything; take over
				continue
			}
			return "", false, res.Err
		}

		f := res.Val.(flight)
		if owner && !f.replayed {
			return f.record.IntentID, false, nil
		}
		return g.replay(key, fp, f.record)
	}
}

func (g *Guard) execute(ctx context.Context, merchantID, key string, fp Fingerprint, create CreateFunc) (flight, error) {
	if rec, ok, err := g.store.Get(ctx, merchantID, key); err != nil {
		return flight{}, err
	} else if ok {
		return flight{record: rec, replayed: true}, nil
	}

	id, err := create(ctx)
	if err != nil {
		return flight{}, err
	}

	rec := Record{IntentID: id, Fingerprint: fp, CreatedAt: g.now().UTC()}
	saved, err := g.store.Save(context.WithoutCancel(ctx), merchantID, key, rec, g.ttl)
	if err != nil {
		g.log.Error().Err(err).Str("merchantId", merchantID).Str("intentId", id).Msg("save idempotency record")
		return flight{record: rec}, nil
	}
	if !saved {
		// another instance recorded this key first; its record wins
		if existing, ok, err := g.store.Get(ctx, merchantID, key); err == nil && ok {
			return flight{record: existing, replayed: true}, nil
		}
	}
	return flight{record: rec}, nil
}

func (g *Guard) replay(key string, fp Fingerprint, rec Record) (string, bool, error) {
	if field := rec.Fingerprint.Diff(fp); field != "" {
		return "", false, &domain.IdempotencyConflictError{Key: key, Field: field}
	}
	metrics.IdempotencyReplays.Inc()
	return rec.IntentID, true, nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
