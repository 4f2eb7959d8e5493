package taskqueue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Subscription is a live message stream for one channel.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Store is the set of queue primitives the engine composes. The
// dequeue path is a single atomic operation so a task can never sit
// popped-but-untracked between the list and the processing record.
type Store interface {
	Push(ctx context.Context, key, value string) (int64, error)
	PushFront(ctx context.Context, key, value string) error
	Range(ctx context.Context, key string) ([]string, error)
	Remove(ctx context.Context, key, value string) (int64, error)
	Len(ctx context.Context, key string) (int64, error)
	PopToProcessing(ctx context.Context, queueKey, processingKey string, dequeuedAt, deadline time.Time, visibility time.Duration) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// popScript moves the queue head into the processing hash in one
// round trip. The raw list element is spliced into the record body so
// the stored task bytes stay exactly what was enqueued.
var popScript = redis.NewScript(`
local item = redis.call('LPOP', KEYS[1])
if not item then
  return false
end
local ok, task = pcall(cjson.decode, item)
local id = 'unknown'
if ok then
  id = task.id or task.task_id or 'unknown'
end
local record = '{"task":' .. item .. ',"dequeuedAt":"' .. ARGV[1] .. '","visibilityDeadline":"' .. ARGV[2] .. '"}'
redis.call('HSET', KEYS[2], id, record)
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
return item
`)

// RedisStore implements Store over a Redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store over the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Push(ctx context.Context, key, value string) (int64, error) {
	return s.client.RPush(ctx, key, value).Result()
}

func (s *RedisStore) PushFront(ctx context.Context, key, value string) error {
	return s.client.LPush(ctx, key, value).Err()
}

func (s *RedisStore) Range(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

func (s *RedisStore) Remove(ctx context.Context, key, value string) (int64, error) {
	return s.client.LRem(ctx, key, 1, value).Result()
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) PopToProcessing(ctx context.Context, queueKey, processingKey string, dequeuedAt, deadline time.Time, visibility time.Duration) (string, error) {
	res, err := popScript.Run(ctx, s.client,
		[]string{queueKey, processingKey},
		dequeuedAt.UTC().Format(time.RFC3339),
		deadline.UTC().Format(time.RFC3339),
		strconv.Itoa(int(visibility.Seconds())),
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	item, ok := res.(string)
	if !ok {
		return "", nil
	}
	return item, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HDel(ctx context.Context, key, field string) error {
	return s.client.HDel(ctx, key, field).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub, messages: make(chan string)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan string
}

func (s *redisSubscription) pump() {
	defer close(s.messages)
	for msg := range s.pubsub.Channel() {
		s.messages <- msg.Payload
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.messages
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
