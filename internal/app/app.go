package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"rate-oracle-updater/internal/alerting"
	"rate-oracle-updater/internal/config"
	"rate-oracle-updater/internal/logging"
	"rate-oracle-updater/internal/metrics"
	"rate-oracle-updater/internal/oracle"
	"rate-oracle-updater/internal/provider"
	"rate-oracle-updater/internal/server"
	"rate-oracle-updater/internal/service"
	"rate-oracle-updater/internal/storage"
	"rate-oracle-updater/internal/trigger"
)

const shutdownGrace = 30 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	filter *logging.Filter
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		filter: logging.ParseFilter(cfg.Logging.Filter),
	}
}

// component returns the root logger for a subsystem, honouring logging.filter.
func (a *App) component(name string) zerolog.Logger {
	return logging.Component(a.Logger, a.filter, name)
}

func (a *App) pair() trigger.Pair {
	pair := trigger.Pair{Base: a.Config.Trigger.Pair.Base, Quote: a.Config.Trigger.Pair.Quote}
	if pair.Quote == "" {
		pair.Quote = provider.DefaultQuote
	}
	return pair
}

func (a *App) newContract() (*oracle.Contract, error) {
	cfg := a.Config.Oracle
	return oracle.NewContract(oracle.Options{
		RPCURL:              cfg.RPCURL,
		ContractAddress:     cfg.ContractAddress,
		Account:             cfg.Account,
		PrivateKey:          cfg.PrivateKey,
		ChainID:             cfg.ChainID,
		GasLimit:            cfg.GasLimit,
		RequestTimeout:      cfg.RequestTimeout,
		ReceiptTimeout:      cfg.ReceiptTimeout,
		ReceiptPollInterval: cfg.ReceiptPollInterval,
	}, a.component("oracle"))
}

func (a *App) newRateManager() (*provider.Manager, error) {
	cfg := a.Config.RateAPI
	source, err := provider.New(provider.Options{
		Name:      cfg.Provider,
		BaseURL:   cfg.URL,
		Token:     cfg.Token,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
	}, a.component("provider"))
	if err != nil {
		return nil, err
	}

	manager := provider.NewManager()
	manager.Register(source)
	return manager, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.component("alerting"))
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) observers(reg prometheus.Registerer, store *storage.Store) []trigger.Observer {
	observers := []trigger.Observer{metrics.New(reg)}

	if store != nil {
		observers = append(observers, storage.NewRecorder(store, a.component("storage")))
	}

	if a.Config.Alerting.Enabled {
		notifier := a.newNotifier()
		if notifier == nil {
			a.Logger.Warn().Msg("alerting enabled but no channel configured")
		} else {
			var audit storage.AlertStore
			if store != nil {
				audit = store
			}
			observers = append(observers, alerting.NewAlerter(notifier, audit, alerting.Options{
				NotifyCommits: a.Config.Alerting.NotifyCommits,
				FailureStreak: a.Config.Alerting.FailureStreak,
				Channels:      []string{"telegram"},
			}, a.component("alerting")))
		}
	}
	return observers
}

// Run executes the long-running updater with its HTTP endpoints.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; commit audit log and pair lock disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	contract, err := a.newContract()
	if err != nil {
		return err
	}
	defer contract.Close()

	rates, err := a.newRateManager()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := service.Dependencies{
		Rates:     rates,
		Oracle:    contract,
		Observers: a.observers(reg, store),
	}
	if store != nil {
		deps.Locker = store
	}

	svc, err := service.New(a.Config, deps, a.component("trigger"))
	if err != nil {
		return err
	}

	srv := server.New(a.Config.Server.Addr, contract, svc, reg, a.component("server"))
	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(srvCtx) }()

	a.Logger.Info().Stringer("pair", a.pair()).Msg("starting rate oracle updater")
	if err := svc.Start(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("failed to start rate updater")
		return err
	}

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		if err != nil {
			a.Logger.Error().Err(err).Msg("HTTP server terminated")
		}
	}

	svc.Stop()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelWait()
	if waitErr := svc.Wait(waitCtx); waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) {
		a.Logger.Warn().Err(waitErr).Msg("rate updater did not stop cleanly")
	}

	a.Logger.Info().Msg("rate oracle updater stopped")
	return err
}

// ExportOptions hold parameters for exporting the commit history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// StateOptions configure the state command.
type StateOptions struct {
	// DryRun skips the feed and evaluates a fixed rate instead.
	DryRun bool
	Rate   string
}
