package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickpilot/internal/copytrade"
	"github.com/alanyoungcy/tickpilot/internal/crypto"
	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/engine"
	"github.com/alanyoungcy/tickpilot/internal/feed"
	"github.com/alanyoungcy/tickpilot/internal/notify"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
	"github.com/alanyoungcy/tickpilot/internal/server"
	"github.com/alanyoungcy/tickpilot/internal/server/handler"
	"github.com/alanyoungcy/tickpilot/internal/session"
	"github.com/alanyoungcy/tickpilot/internal/strategy"
)

// lockTTL bounds how long the daily-reset and archive locks are held if the
// holder dies mid-sweep.
const lockTTL = 5 * time.Minute

// trading is the assembled real-time side of the application: the session
// manager, the execution engine, and the copy-trade replicator.
type trading struct {
	manager    *session.Manager
	engine     *engine.Engine
	registry   *copytrade.Registry
	replicator *copytrade.Replicator // nil when copytrade.enabled is false
	connector  *sessionConnector
}

// EngineMode runs the trading runtime without the HTTP control plane.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")
	return a.runTrading(ctx, deps, false)
}

// ServerMode runs the HTTP control plane only. Bot lifecycle endpoints return
// 503 since no engine is attached; configuration, stats, and copy-trade
// reporting remain available.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, copytrade.NewRegistry(), func() {})
	return g.Wait()
}

// FullMode runs the trading runtime and the HTTP control plane together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps, a.cfg.Server.Enabled)
}

// runTrading assembles the session manager, engine, and replicator, restores
// bots marked running, and blocks until the context is cancelled.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, withServer bool) error {
	t, err := a.buildTrading(deps)
	if err != nil {
		return err
	}
	defer t.manager.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Session liveness loop.
	g.Go(func() error {
		return t.manager.Run(ctx)
	})

	// Restore bots that were running at last shutdown.
	if a.cfg.Engine.RestoreRunning {
		if err := a.restoreRunning(ctx, deps, t); err != nil {
			a.logger.WarnContext(ctx, "restore of running bots failed",
				slog.String("error", err.Error()),
			)
		}
	}

	// Daily-loss reset sweep, single-flight across instances.
	resetFn := a.dailyResetFunc(deps, t)
	g.Go(func() error {
		return a.runDaily(ctx, "daily reset", a.cfg.Engine.DailyResetHour, func(ctx context.Context) {
			resetFn()
		})
	})

	// Settled-trade archival.
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runDaily(ctx, "trade archive", a.cfg.Archive.Hour, func(ctx context.Context) {
				a.archiveYesterday(ctx, deps)
			})
		})
	}

	if withServer {
		a.startHTTPServer(ctx, g, deps, t, t.registry, resetFn)
	}

	err = g.Wait()

	// Let in-flight store writes finish before cleanup closes the pool.
	t.engine.Drain()
	if t.replicator != nil {
		t.replicator.Drain()
	}
	return err
}

// buildTrading wires the real-time components and registers the event
// consumers on the session manager.
func (a *App) buildTrading(deps *Dependencies) (*trading, error) {
	if deps.Vault == nil {
		return nil, errors.New("app: vault passphrase is required to run the engine")
	}

	windows := feed.NewWindows(a.cfg.Engine.TickWindow)
	dialer := &deriv.WSDialer{Endpoint: a.cfg.Deriv.WSURL()}

	manager := session.NewManager(dialer, windows, session.Config{
		MaxReconnectAttempts: a.cfg.Session.MaxReconnectAttempts,
		ReconnectBase:        a.cfg.Session.ReconnectBase.Duration,
		LivenessPeriod:       a.cfg.Session.LivenessPeriod.Duration,
		SilenceTimeout:       a.cfg.Session.SilenceTimeout.Duration,
	}, a.logger)

	eng := engine.New(
		manager,
		windows,
		strategy.NewRegistry(),
		deps.BotStore,
		deps.TradeStore,
		deps.StatsStore,
		deps.OrderLimiter,
		deps.Notifier,
		a.cfg.Engine.BotBuffer,
		a.logger,
	)

	registry := copytrade.NewRegistry()
	var replicator *copytrade.Replicator
	if a.cfg.CopyTrade.Enabled {
		replicator = copytrade.NewReplicator(
			registry,
			manager,
			deps.UserStore,
			deps.TradeStore,
			deps.BalanceCache,
			a.cfg.CopyTrade.Currency,
			a.logger,
		)
	}

	consumers := session.Consumers{
		Ticks:       []domain.TickConsumer{eng},
		Proposals:   []domain.ProposalConsumer{eng},
		Buys:        []domain.BuyConsumer{eng},
		Settlements: []domain.SettlementConsumer{eng},
		Balances:    []domain.BalanceConsumer{&balanceRecorder{cache: deps.BalanceCache, logger: a.logger}},
		Observers:   []domain.SessionObserver{eng},
	}
	if replicator != nil {
		consumers.Proposals = append(consumers.Proposals, replicator)
		consumers.Buys = append(consumers.Buys, replicator)
		consumers.Settlements = append(consumers.Settlements, replicator)
		consumers.Observers = append(consumers.Observers, replicator)
	}
	manager.SetConsumers(consumers)

	connector := &sessionConnector{
		users:   deps.UserStore,
		vault:   deps.Vault,
		manager: manager,
	}

	return &trading{
		manager:    manager,
		engine:     eng,
		registry:   registry,
		replicator: replicator,
		connector:  connector,
	}, nil
}

// restoreRunning reconnects the sessions of every user owning a running bot,
// then re-activates those bots.
func (a *App) restoreRunning(ctx context.Context, deps *Dependencies, t *trading) error {
	bots, err := deps.BotStore.ListByStatus(ctx, domain.BotStatusRunning)
	if err != nil {
		return fmt.Errorf("app: list running bots: %w", err)
	}
	seen := make(map[string]struct{}, len(bots))
	for _, b := range bots {
		if _, ok := seen[b.UserID]; ok {
			continue
		}
		seen[b.UserID] = struct{}{}
		if err := t.connector.EnsureConnected(ctx, b.UserID); err != nil {
			a.logger.WarnContext(ctx, "session restore failed",
				slog.String("user_id", b.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
	return t.engine.RestoreRunning(ctx)
}

// dailyResetFunc returns the closure that clears every daily-loss
// accumulator, guarded by the distributed lock so only one instance sweeps.
func (a *App) dailyResetFunc(deps *Dependencies, t *trading) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		release, err := deps.LockManager.Acquire(ctx, "daily-reset", lockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				a.logger.Warn("daily reset lock failed", slog.String("error", err.Error()))
			}
			return
		}
		defer release()

		t.engine.ResetDailyLoss()
		t.registry.ResetDailyLoss()
		a.logger.Info("daily loss accumulators reset")

		if deps.Notifier != nil {
			_ = deps.Notifier.Notify(ctx, notify.EventDailyReset,
				"Daily reset", "Daily loss accumulators have been cleared.")
		}
	}
}

// archiveYesterday uploads the previous day's settled trades to blob storage.
func (a *App) archiveYesterday(ctx context.Context, deps *Dependencies) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	release, err := deps.LockManager.Acquire(ctx, "trade-archive", lockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			a.logger.Warn("archive lock failed", slog.String("error", err.Error()))
		}
		return
	}
	defer release()

	day := time.Now().UTC().AddDate(0, 0, -1)
	n, err := deps.Archiver.ArchiveDay(ctx, day)
	if err != nil {
		a.logger.Warn("trade archive failed",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("trade archive complete",
		slog.String("day", day.Format("2006-01-02")),
		slog.Int64("trades", n),
	)
}

// runDaily invokes fn once per day at the given UTC hour until the context is
// cancelled.
func (a *App) runDaily(ctx context.Context, name string, hour int, fn func(context.Context)) error {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		a.logger.InfoContext(ctx, "running scheduled job", slog.String("job", name))
		fn(ctx)
	}
}

// startHTTPServer adds an HTTP server goroutine to the given errgroup. The
// server is shut down gracefully when the context is cancelled. t may be nil
// in server-only mode.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	t *trading,
	registry *copytrade.Registry,
	resetFn func(),
) {
	var runtime handler.BotRuntime
	if t != nil {
		runtime = &botRuntime{engine: t.engine, bots: deps.BotStore, connector: t.connector}
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Bots:      handler.NewBotHandler(deps.BotStore, deps.StatsStore, runtime, a.logger),
		CopyTrade: handler.NewCopyTradeHandler(registry, deps.TradeStore, a.logger),
		Users:     handler.NewUserHandler(deps.UserStore, deps.Vault, a.logger),
		Admin:     handler.NewAdminHandler(resetFn, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, deps.APILimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ---------------------------------------------------------------------------
// Adapters
// ---------------------------------------------------------------------------

// sessionConnector establishes a user's venue session on demand: it loads the
// user, decrypts the linked API token, and hands it to the session manager.
type sessionConnector struct {
	users   domain.UserStore
	vault   *crypto.Vault
	manager *session.Manager
}

// EnsureConnected is a no-op when the user already has a session.
func (c *sessionConnector) EnsureConnected(ctx context.Context, userID string) error {
	if _, ok := c.manager.Session(userID); ok {
		return nil
	}
	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("app: load user %s: %w", userID, err)
	}
	if user.EncryptedToken == "" {
		return fmt.Errorf("app: user %s has no linked venue token", userID)
	}
	token, err := c.vault.Decrypt(user.EncryptedToken)
	if err != nil {
		return fmt.Errorf("app: decrypt token for %s: %w", userID, err)
	}
	c.manager.Connect(userID, token)
	return nil
}

// botRuntime adapts the engine to the HTTP bot-lifecycle surface, connecting
// the owner's session before a bot starts.
type botRuntime struct {
	engine    *engine.Engine
	bots      domain.BotStore
	connector *sessionConnector
}

func (r *botRuntime) StartBot(ctx context.Context, botID string) error {
	bot, err := r.bots.FindByID(ctx, botID)
	if err != nil {
		return err
	}
	if err := r.connector.EnsureConnected(ctx, bot.UserID); err != nil {
		return err
	}
	return r.engine.StartBot(ctx, botID)
}

func (r *botRuntime) StopBot(ctx context.Context, botID string) error {
	return r.engine.StopBot(ctx, botID)
}

func (r *botRuntime) PauseBot(ctx context.Context, botID string) error {
	return r.engine.PauseBot(ctx, botID)
}

func (r *botRuntime) ResumeBot(ctx context.Context, botID string) error {
	return r.engine.ResumeBot(ctx, botID)
}

func (r *botRuntime) Stats(botID string) (domain.BotStats, bool) {
	return r.engine.Stats(botID)
}

func (r *botRuntime) DailyLoss(botID string) (float64, bool) {
	return r.engine.DailyLoss(botID)
}

var _ handler.BotRuntime = (*botRuntime)(nil)

// balanceRecorder mirrors venue balance updates into the balance cache, off
// the session dispatch path.
type balanceRecorder struct {
	cache  domain.BalanceCache
	logger *slog.Logger
}

func (b *balanceRecorder) OnBalance(bal domain.Balance) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.cache.SetBalance(ctx, bal.UserID, bal.Amount, bal.Currency); err != nil {
			b.logger.Warn("balance cache write failed",
				slog.String("user_id", bal.UserID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

var _ domain.BalanceConsumer = (*balanceRecorder)(nil)
