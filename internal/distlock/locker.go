// Package distlock provides best-effort distributed locks over redis.
// Billing runs take a per-customer lock so two scheduler instances never
// generate the same invoice concurrently; without redis the locker
// degrades to always granting, leaning on the database advisory lock.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/warebill/warebill/internal/config"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyBillingCustomer = "warebill:billing:lock:%s"

type Locker struct {
	client *redis.Client
	script *redis.Script
}

// NewLocker builds a locker from application config. A blank redis addr
// returns nil, which every method treats as "always granted".
func NewLocker(cfg config.Config) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryLock attempts to take the key for ttl. The returned token must be
// passed back to Release; releasing with a stale token is a no-op so an
// expired holder cannot free a lock someone else has since taken.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// CustomerKey names the billing lock for one customer.
func CustomerKey(customerID string) string {
	return fmt.Sprintf(keyBillingCustomer, strings.TrimSpace(customerID))
}
