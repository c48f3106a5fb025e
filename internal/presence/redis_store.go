package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrMorningStark/chat/internal/config"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

// redisStore implements Store using Redis.
//
// Redis key patterns:
// user:{sid}:status   STRING "online"|"offline", TTL-bound
type redisStore struct {
	client     *redis.Client
	channel    string
	instanceID string
	statusTTL  time.Duration
}

// NewRedisStore creates a new Redis-backed presence store.
func NewRedisStore(cfg config.RedisConfig, instanceID string) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	channel := cfg.PresenceChannel
	if channel == "" {
		channel = "presence:updates"
	}

	return &redisStore{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		statusTTL:  cfg.StatusTTL,
	}, nil
}

func statusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}

func (s *redisStore) SetOnline(ctx context.Context, userID string) error {
	if err := s.client.Set(ctx, statusKey(userID), StatusOnline, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence online: %w", err)
	}
	s.publish(ctx, userID, StatusOnline)
	return nil
}

func (s *redisStore) SetOffline(ctx context.Context, userID string) error {
	// Offline records carry the same TTL; an expired key already reads as
	// offline, this just makes the transition immediate.
	if err := s.client.Set(ctx, statusKey(userID), StatusOffline, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence offline: %w", err)
	}
	s.publish(ctx, userID, StatusOffline)
	return nil
}

func (s *redisStore) Refresh(ctx context.Context, userID string) error {
	return s.client.Set(ctx, statusKey(userID), StatusOnline, s.statusTTL).Err()
}

func (s *redisStore) Get(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, statusKey(userID)).Result()
	if err == redis.Nil {
		return StatusOffline, nil
	}
	if err != nil {
		return StatusOffline, fmt.Errorf("failed to get presence: %w", err)
	}
	return val, nil
}

func (s *redisStore) publish(ctx context.Context, userID, status string) {
	payload, err := json.Marshal(StatusEvent{
		UserID:           userID,
		Status:           status,
		OriginInstanceID: s.instanceID,
	})
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to publish presence event")
	}
}

func (s *redisStore) Subscribe(ctx context.Context) (<-chan StatusEvent, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to presence channel: %w", err)
	}

	events := make(chan StatusEvent, 64)
	go func() {
		defer close(events)
		defer sub.Close()
		l := pkglog.L()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					l.Warn().Err(err).Msg("invalid presence event payload")
					continue
				}
				select {
				case events <- evt:
				default:
					l.Warn().Msg("presence event buffer full, dropping event")
				}
			}
		}
	}()

	return events, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
