package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as a JSON value and fans writes out over
// pub/sub, so sessions in different processes observe each other's writes.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

func docKey(id string) string {
	return "canvas:" + id
}

func docChannel(id string) string {
	return "canvas-updates:" + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (Document, error) {
	raw, err := r.client.Get(ctx, docKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to get canvas: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode canvas: %w", err)
	}
	return doc, nil
}

func (r *RedisStore) Create(ctx context.Context, doc Document) (Document, error) {
	now := r.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := r.write(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *RedisStore) Put(ctx context.Context, id string, data string) (Document, error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Data = data
	doc.UpdatedAt = r.now().UTC()
	if err := r.write(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *RedisStore) write(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode canvas: %w", err)
	}
	if err := r.client.Set(ctx, docKey(doc.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to set canvas: %w", err)
	}
	if err := r.client.Publish(ctx, docChannel(doc.ID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish canvas update: %w", err)
	}
	return nil
}

func (r *RedisStore) Watch(ctx context.Context, id string, fn func(Document)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, docChannel(id))
	// Force the subscription to be established before returning, so no write
	// performed after Watch can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	go func() {
		for msg := range pubsub.Channel() {
			var doc Document
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				slog.Error("failed to decode canvas update", "channel", msg.Channel, "err", err)
				continue
			}
			fn(doc)
		}
	}()
	return func() {
		_ = pubsub.Close()
	}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
