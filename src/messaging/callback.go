package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

const callbackQueueKey = "callback_queue"

var ErrQueueFull = errors.New("callback queue is full")

// CallbackQueue carries provider callbacks from the webhook handler to the workers.
type CallbackQueue interface {
	Produce(ctx context.Context, cb domain.ProviderCallback) error
	// Consume blocks until a callback arrives or ctx is done.
	Consume(ctx context.Context) (domain.ProviderCallback, error)
}

func NewRedisCallbackQueue(client *redis.Client) CallbackQueue {
	return &redisCallbackQueue{client: client}
}

type redisCallbackQueue struct {
	client *redis.Client
}

func (q *redisCallbackQueue) Produce(ctx context.Context, cb domain.ProviderCallback) error {
	data, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, callbackQueueKey, data).Err()
}

func (q *redisCallbackQueue) Consume(ctx context.Context) (domain.ProviderCallback, error) {
	for {
		res, err := q.client.BLPop(ctx, time.Second, callbackQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return domain.ProviderCallback{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return domain.ProviderCallback{}, err
		}

		var cb domain.ProviderCallback
		if err := json.Unmarshal([]byte(res[1]), &cb); err != nil {
			return domain.ProviderCallback{}, fmt.Errorf("decode callback: %w", err)
		}
		return cb, nil
	}
}

func NewChannelCallbackQueue(size int) CallbackQueue {
	if size <= 0 {
		size = 10000
	}
	return &channelCallbackQueue{queue: make(chan domain.ProviderCallback, size)}
}

type channelCallbackQueue struct {
	queue chan domain.ProviderCallback
}

func (q *channelCallbackQueue) Produce(_ context.Context, cb domain.ProviderCallback) error {
	select {
	case q.queue <- cb:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *channelCallbackQueue) Consume(ctx context.Context) (domain.ProviderCallback, error) {
	select {
	case cb := <-q.queue:
		return cb, nil
	case <-ctx.Done():
		return domain.ProviderCallback{}, ctx.Err()
	}
}
