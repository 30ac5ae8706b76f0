// Package presence keeps the account's presence pattern organic: occasional
// online/offline flips and a rare brief composing flash on a recent chat,
// spaced by long randomized idle stretches.
package presence

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/thanhpd/warelay/internal/pacing"
	"github.com/thanhpd/warelay/pkg/bridge"
)

// Client is the slice of the bridge client the loop needs.
type Client interface {
	Presence(ctx context.Context, state, chat string) error
	RecentChats(ctx context.Context) ([]string, error)
}

// Config tunes the idle interval between presence decisions.
type Config struct {
	MinIdle time.Duration
	MaxIdle time.Duration
}

// DefaultConfig spaces decisions 1.7–4.8 minutes apart.
func DefaultConfig() Config {
	return Config{MinIdle: 100 * time.Second, MaxIdle: 290 * time.Second}
}

// recentLimit bounds the composing flash to genuinely recent chats.
const recentLimit = 6

// Loop publishes randomized presence updates until its context is cancelled.
type Loop struct {
	client Client
	cfg    Config

	rand  func() float64
	pick  func(n int) int
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoop(client Client, cfg Config) *Loop {
	if cfg.MinIdle <= 0 || cfg.MaxIdle <= 0 {
		cfg = DefaultConfig()
	}
	return &Loop{
		client: client,
		cfg:    cfg,
		rand:   rand.Float64,
		pick:   rand.IntN,
		sleep:  pacing.Sleep,
	}
}

// Run blocks until ctx is cancelled. Presence is cosmetic; any error is
// logged and the loop resumes after a short pause.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("presence loop started", "min_idle", l.cfg.MinIdle, "max_idle", l.cfg.MaxIdle)

	for ctx.Err() == nil {
		if err := l.step(ctx); err != nil {
			slog.Warn("presence update failed", "error", err)
			_ = l.sleep(ctx, 15*time.Second)
			continue
		}
		_ = l.sleep(ctx, pacing.Jitter(l.cfg.MinIdle, l.cfg.MaxIdle))
	}
	slog.Info("presence loop stopped")
}

// step makes one presence decision: 15% online, 50% offline, 3% a brief
// composing flash on a recent chat, the rest pure idle.
func (l *Loop) step(ctx context.Context) error {
	switch roll := l.rand(); {
	case roll < 0.15:
		return l.client.Presence(ctx, bridge.PresenceAvailable, "")
	case roll < 0.65:
		return l.client.Presence(ctx, bridge.PresenceUnavailable, "")
	case roll < 0.68:
		return l.composeFlash(ctx)
	default:
		return nil
	}
}

func (l *Loop) composeFlash(ctx context.Context) error {
	chats, err := l.client.RecentChats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return nil
	}
	if len(chats) > recentLimit {
		chats = chats[:recentLimit]
	}
	chat := chats[l.pick(len(chats))]

	if err := l.client.Presence(ctx, bridge.PresenceComposing, chat); err != nil {
		return err
	}
	_ = l.sleep(ctx, pacing.Jitter(600*time.Millisecond, 1900*time.Millisecond))
	return l.client.Presence(ctx, bridge.PresencePaused, chat)
}
