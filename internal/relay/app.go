// Package relay wires the whole pipeline together: bridge client, identity
// resolver, cooldown gate, delivery queue, outbox poller, event handlers and
// the background presence/maintenance loops.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"github.com/thanhpd/warelay/internal/config"
	"github.com/thanhpd/warelay/internal/cooldown"
	"github.com/thanhpd/warelay/internal/handlers"
	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/outbox"
	"github.com/thanhpd/warelay/internal/presence"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
	"github.com/thanhpd/warelay/internal/store/pg"
	"github.com/thanhpd/warelay/internal/store/sqlite"
	"github.com/thanhpd/warelay/internal/telemetry"
	"github.com/thanhpd/warelay/internal/wa"
)

// App is the assembled relay.
type App struct {
	cfg *config.Config

	bridge   *wa.Bridge
	stores   *store.Stores
	gate     *cooldown.Gate
	resolver *identity.Resolver
	queue    *queue.Queue
	poller   *outbox.Poller
	presence *presence.Loop

	stopTrace func(context.Context) error
}

// reportProxy breaks the queue/poller construction cycle: the queue needs a
// reporter before the poller (which needs the queue) exists.
type reportProxy struct {
	target queue.Reporter
}

func (p *reportProxy) ReportSent(ctx context.Context, ref string) {
	if p.target != nil {
		p.target.ReportSent(ctx, ref)
	}
}

func (p *reportProxy) ReportFailed(ctx context.Context, ref string) {
	if p.target != nil {
		p.target.ReportFailed(ctx, ref)
	}
}

// New assembles the relay from config. Nothing starts running until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	dataDir := cfg.DataPath()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	stopTrace, err := telemetry.Setup(ctx, cfg.Telemetry.ToOptions())
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	bridgeClient, err := wa.NewBridge(cfg.Bridge.URL)
	if err != nil {
		return nil, err
	}

	gate := cooldown.NewGate(cfg.CooldownLedgerPath(), cooldown.DefaultDebounce)
	resolver := identity.NewResolver(bridgeClient, cfg.Identity.ToResolverOptions(dataDir))

	proxy := &reportProxy{}
	q := queue.New(bridgeClient, proxy, cfg.Outbox.ToQueueConfig())
	poller := outbox.New(stores.Outbox, q, cfg.Outbox.ToPollerConfig())
	proxy.target = poller

	app := &App{
		cfg:       cfg,
		bridge:    bridgeClient,
		stores:    stores,
		gate:      gate,
		resolver:  resolver,
		queue:     q,
		poller:    poller,
		stopTrace: stopTrace,
	}
	if cfg.Presence.LoopEnabled() {
		app.presence = presence.NewLoop(bridgeClient, cfg.Presence.ToLoopConfig())
	}

	msgHandler := handlers.NewMessageHandler(bridgeClient, gate, resolver, q,
		stores.Inbox, stores.Senders, cfg.Responder.ToMessageConfig())
	callHandler := handlers.NewCallHandler(bridgeClient, gate, resolver, q,
		cfg.Calls.ToCallConfig())

	// Handlers sleep to mimic humans; one goroutine per event keeps the
	// bridge read loop responsive.
	bridgeClient.OnMessage(func(msg wa.Message) { go msgHandler.Handle(ctx, msg) })
	bridgeClient.OnCall(func(call wa.Call) { go callHandler.Handle(ctx, call) })

	return app, nil
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	codes := cfg.Outbox.ToStatusCodes()

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver selected but WARELAY_POSTGRES_DSN not set")
		}
		slog.Info("using postgres store")
		return pg.NewStores(cfg.Store.PostgresDSN, codes)
	case "", "sqlite":
		path := cfg.SQLitePath()
		slog.Info("using sqlite store", "path", path)
		return sqlite.NewStores(path, codes)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Run starts everything and blocks until ctx is cancelled, then shuts down
// gracefully: the in-flight delivery finishes and ledgers flush to disk.
func (a *App) Run(ctx context.Context) error {
	if err := a.bridge.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	go a.poller.Run(ctx)
	if a.presence != nil {
		go a.presence.Run(ctx)
	}
	go a.maintenanceLoop(ctx)

	slog.Info("relay running")
	<-ctx.Done()

	a.shutdown()
	return nil
}

// maintenanceLoop fires the cache sweep and ledger purge on the configured
// cron schedule, checking due-ness once a minute.
func (a *App) maintenanceLoop(ctx context.Context) {
	expr := a.cfg.Maintenance.Schedule()
	g := gronx.New()
	if !g.IsValid(expr) {
		slog.Warn("invalid maintenance cron, maintenance disabled", "cron", expr)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(expr)
			if err != nil || !due {
				continue
			}
			a.runMaintenance()
		}
	}
}

func (a *App) runMaintenance() {
	swept := a.resolver.SweepExpired()
	purged := a.gate.Sweep(a.cfg.Maintenance.LedgerAge())
	slog.Info("maintenance pass", "contacts_swept", swept, "cooldowns_purged", purged)
}

func (a *App) shutdown() {
	slog.Info("relay shutting down")

	a.queue.Stop()
	a.queue.Wait()
	a.bridge.Stop()
	a.resolver.Close()

	if err := a.gate.FlushNow(); err != nil {
		slog.Warn("cooldown ledger flush failed", "error", err)
	}
	if err := a.resolver.Cache().FlushNow(); err != nil {
		slog.Warn("contact cache flush failed", "error", err)
	}
	if a.stores.Close != nil {
		if err := a.stores.Close(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.stopTrace(shutdownCtx); err != nil {
		slog.Warn("trace shutdown failed", "error", err)
	}

	slog.Info("relay stopped")
}
