// Package guard decides whether a generation request may run: a global kill
// switch read from the key-value store and a per-user hourly request limit.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

var (
	// ErrSystemDisabled is matched when an operator has switched generation off.
	ErrSystemDisabled = errors.New("system disabled")
	// ErrRateLimited is matched when a user exceeded the hourly limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// StatusKey is the key holding the system status document.
const StatusKey = "system_status"

// KVStore is the key-value port the guard keeps its state in.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments the counter at key, starting it with ttl when absent
	// or expired, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Config tunes the guard.
type Config struct {
	// StatusTTL is how long a read of the system status is reused.
	StatusTTL time.Duration
	// HourlyLimit is the number of generations a user may start per hour.
	// Zero disables the limit.
	HourlyLimit int
	// BucketTTL is how long an hourly usage bucket is retained.
	BucketTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StatusTTL:   5 * time.Minute,
		HourlyLimit: 20,
		BucketTTL:   2 * time.Hour,
	}
}

// SystemStatus is the stored kill switch document.
type SystemStatus struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Guard admits or rejects generation requests.
type Guard struct {
	kv  KVStore
	cfg Config

	mu          sync.Mutex
	cached      SystemStatus
	cachedUntil time.Time

	now    func() time.Time
	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Guard over kv.
func New(kv KVStore, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Guard {
	return &Guard{
		kv:     kv,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "usage_guard"),
		tracer: tracer,
	}
}

// Admit checks the kill switch and, when userID is set, charges one request
// against the user's hourly limit.
func (g *Guard) Admit(ctx context.Context, userID string) error {
	ctx, span := g.tracer.Start(ctx, "guard.admit", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	status := g.Status(ctx)
	if !status.Enabled {
		span.SetStatus(codes.Error, "system disabled")
		reason := status.Reason
		if reason == "" {
			reason = "disabled by operator"
		}
		return fmt.Errorf("%w: %s", ErrSystemDisabled, reason)
	}

	if userID == "" || g.cfg.HourlyLimit <= 0 {
		return nil
	}

	key := usageKey(userID, g.now())
	n, err := g.kv.Incr(ctx, key, g.cfg.BucketTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "usage check failed")
		// A failed check rejects the request.
		return schedule.NewTransientError("usage check", err)
	}
	span.SetAttributes(attribute.Int64("usage", n))

	if n > int64(g.cfg.HourlyLimit) {
		g.logger.Warn(ctx, "User exceeded hourly generation limit", "user_id", userID, "usage", n)
		span.SetStatus(codes.Error, "rate limited")
		return fmt.Errorf("%w: at most %d generations per hour", ErrRateLimited, g.cfg.HourlyLimit)
	}
	return nil
}

// Status returns the system status, reusing a recent read. Read failures and
// unparseable documents report the system as enabled.
func (g *Guard) Status(ctx context.Context) SystemStatus {
	now := g.now()

	g.mu.Lock()
	if now.Before(g.cachedUntil) {
		s := g.cached
		g.mu.Unlock()
		return s
	}
	g.mu.Unlock()

	status := SystemStatus{Enabled: true}
	raw, ok, err := g.kv.Get(ctx, StatusKey)
	switch {
	case err != nil:
		g.logger.Warn(ctx, "Failed to read system status", "error", err)
		return status
	case ok:
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			g.logger.Warn(ctx, "Ignoring malformed system status", "error", err)
			status = SystemStatus{Enabled: true}
		}
	}

	g.mu.Lock()
	g.cached, g.cachedUntil = status, now.Add(g.cfg.StatusTTL)
	g.mu.Unlock()
	return status
}

// SetStatus stores status and refreshes the local cache.
func (g *Guard) SetStatus(ctx context.Context, status SystemStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal system status: %w", err)
	}
	if err := g.kv.Set(ctx, StatusKey, string(raw), 0); err != nil {
		return fmt.Errorf("store system status: %w", err)
	}

	g.mu.Lock()
	g.cached, g.cachedUntil = status, g.now().Add(g.cfg.StatusTTL)
	g.mu.Unlock()

	g.logger.Info(ctx, "System status changed", "enabled", status.Enabled, "reason", status.Reason)
	return nil
}

// usageKey names the hourly bucket counting userID's generations.
func usageKey(userID string, at time.Time) string {
	return "usage:generate:" + at.UTC().Format("20060102_15") + ":" + userID
}
