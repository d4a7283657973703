package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const activityTTL = 24 * time.Hour

// OpenRedisPool initializes a Redis connection pool
func OpenRedisPool(ctx context.Context, dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = 100
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err = client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// ActivityTracker records when each user last made an authenticated request.
// A tracker with a nil client records nothing.
type ActivityTracker struct {
	client *redis.Client
}

func NewActivityTracker(client *redis.Client) *ActivityTracker {
	return &ActivityTracker{client: client}
}

func activityKey(userID int64) string {
	return "activity:" + strconv.FormatInt(userID, 10)
}

// Touch stores the current time, ip and user agent for userID.
func (a *ActivityTracker) Touch(ctx context.Context, userID int64, ip, userAgent string) error {
	if a == nil || a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := activityKey(userID)
	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"last_activity": time.Now().UTC().Format(time.RFC3339),
		"ip_address":    ip,
		"user_agent":    userAgent,
	})
	pipe.Expire(ctx, key, activityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update last activity: %w", err)
	}
	return nil
}

// LoginThrottle counts failed logins per username and client ip and refuses
// further attempts from that pair once MaxAttempts failures land inside the
// lockout window. Other clients can still log in as the same user.
// A throttle with a nil client or MaxAttempts <= 0 allows everything.
type LoginThrottle struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewLoginThrottle(client *redis.Client, maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: client, maxAttempts: maxAttempts, window: window}
}

func failuresKey(username, ip string) string {
	return "login_failures:" + username + ":" + ip
}

func (l *LoginThrottle) enabled() bool {
	return l != nil && l.client != nil && l.maxAttempts > 0
}

func (l *LoginThrottle) Allowed(ctx context.Context, username, ip string) (bool, error) {
	if !l.enabled() {
		return true, nil
	}
	count, err := l.client.Get(ctx, failuresKey(username, ip)).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("read login failures: %w", err)
	}
	return count < l.maxAttempts, nil
}

// Fail records one failed attempt. The window starts at the first failure.
func (l *LoginThrottle) Fail(ctx context.Context, username, ip string) error {
	if !l.enabled() {
		return nil
	}
	key := failuresKey(username, ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("expire login failures: %w", err)
		}
	}
	return nil
}

func (l *LoginThrottle) Reset(ctx context.Context, username, ip string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.client.Del(ctx, failuresKey(username, ip)).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}
