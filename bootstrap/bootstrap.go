// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/adapters/clock"
	chathttp "github.com/artpar/chatgate/adapters/http"
	"github.com/artpar/chatgate/adapters/idgen"
	"github.com/artpar/chatgate/adapters/metrics"
	chattls "github.com/artpar/chatgate/adapters/tls"
	"github.com/artpar/chatgate/app"
	"github.com/artpar/chatgate/config"
	"github.com/artpar/chatgate/domain/cost"
	"github.com/artpar/chatgate/domain/quota"
	"github.com/artpar/chatgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	Chat       *app.ChatService

	// ChallengeServer answers ACME challenges when TLS is enabled.
	ChallengeServer *http.Server

	ledger    *openedLedger
	sweeper   *LedgerSweeper
	logCloser io.Closer
}

// Options overrides parts of the wiring. The zero value builds everything
// from configuration.
type Options struct {
	// Completer replaces the configured assistant provider.
	Completer ports.Completer
	// Clock replaces the real clock.
	Clock ports.Clock
	// LogOutput replaces stdout for the console log stream.
	LogOutput io.Writer
	// WatchConfig enables hot reload on file change and SIGHUP.
	WatchConfig bool
}

// New creates and initializes the application.
func New(ctx context.Context, holder *config.Holder, opts Options) (*App, error) {
	cfg := holder.Get()

	logger, logCloser := NewLogger(cfg.Logging, opts.LogOutput)
	logger.Info().Msg("initializing chatgate")

	a := &App{
		Logger:    logger,
		Config:    holder,
		logCloser: logCloser,
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	// Metrics live on a private registry so tests can build many apps.
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	ledger, err := openLedger(ctx, cfg.Ledger, clk, logger)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	a.ledger = ledger

	completer := opts.Completer
	if completer == nil {
		completer, err = NewCompleter(ctx, cfg.Assistant)
		if err != nil {
			a.ledger.close()
			a.closeLog()
			return nil, fmt.Errorf("init completer: %w", err)
		}
	}
	completer = metrics.InstrumentCompleter(completer, a.Metrics)

	estimator := NewEstimator(cfg.Pricing, logger)

	a.Chat = app.NewChatService(app.ChatDeps{
		Ledger:    ledger.ledger,
		Completer: completer,
		Estimator: estimator,
		Clock:     clk,
		IDGen:     idgen.UUID{},
		Logger:    logger,
	}, ChatConfigFrom(cfg))

	logger.Info().
		Str("provider", completer.Name()).
		Str("estimator", estimator.Name()).
		Int("max_messages_per_day", cfg.Quota.MaxMessagesPerDay).
		Float64("max_cost_per_day", cfg.Quota.MaxCostPerDay).
		Dur("cooldown", cfg.Quota.Cooldown).
		Msg("chat service configured")

	if !ledger.selfSweeping {
		a.sweeper = NewLedgerSweeper(a.Chat, cfg.Ledger.SweepInterval, logger, a.Metrics)
	}

	holder.SetLogger(logger)
	holder.OnChange(a.applyConfig)
	holder.OnError(func(error) { a.Metrics.ConfigReloadErrors.Inc() })
	if opts.WatchConfig && holder.Path() != "" {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch disabled")
		}
		holder.WatchSignals()
	}

	a.initHTTPServer(cfg, clk)

	if cfg.Server.TLS.Enabled {
		if err := a.initTLS(cfg.Server.TLS); err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("init tls: %w", err)
		}
	}

	return a, nil
}

func (a *App) initHTTPServer(cfg *config.Config, clk ports.Clock) {
	handler := chathttp.NewChatHandler(a.Chat, clk, a.Logger, a.Metrics)

	routerCfg := chathttp.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		EnableUsage:    cfg.Server.EnableUsage,
	}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.Metrics
		routerCfg.MetricsGather = a.Registry
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	router := chathttp.NewRouter(handler, a.Logger, routerCfg)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

func (a *App) initTLS(cfg config.TLSConfig) error {
	provider, err := chattls.NewACMEProvider(chattls.ACMEConfig{
		Email:    cfg.Email,
		Staging:  cfg.Staging,
		Domains:  cfg.Domains,
		CacheDir: cfg.CacheDir,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.HTTPServer.TLSConfig = provider.TLSConfig()
	a.ChallengeServer = &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     provider.HTTPHandler(),
		ReadTimeout: 10 * time.Second,
	}
	return nil
}

// ChatConfigFrom extracts the hot-reloadable chat settings.
func ChatConfigFrom(cfg *config.Config) app.ChatConfig {
	return app.ChatConfig{
		Limits: quota.Limits{
			MaxMessagesPerDay: cfg.Quota.MaxMessagesPerDay,
			MaxCostPerDay:     cfg.Quota.MaxCostPerDay,
			Cooldown:          cfg.Quota.Cooldown,
			ReservationTTL:    cfg.Quota.ReservationTTL,
		},
		Pricing: cost.Pricing{
			InputPerToken:  cfg.Pricing.InputPerToken,
			OutputPerToken: cfg.Pricing.OutputPerToken,
		},
		Instructions:   cfg.Assistant.Instructions,
		SupportContact: cfg.Assistant.SupportContact,
	}
}

// applyConfig pushes a reloaded configuration into the running services.
func (a *App) applyConfig(cfg *config.Config) {
	a.Chat.UpdateConfig(ChatConfigFrom(cfg))

	setLevel(cfg.Logging.Level)

	a.Metrics.ConfigReloads.Inc()
	a.Metrics.ConfigLastReload.SetToCurrentTime()
	a.Logger.Info().Msg("chat configuration applied")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.sweeper != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.sweeper.Sweep(ctx)
		cancel()
	}

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Bool("tls", a.HTTPServer.TLSConfig != nil).
			Msg("starting http server")
		var err error
		if a.HTTPServer.TLSConfig != nil {
			err = a.HTTPServer.ListenAndServeTLS("", "")
		} else {
			err = a.HTTPServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if a.ChallengeServer != nil {
		go func() {
			a.Logger.Info().Str("addr", a.ChallengeServer.Addr).Msg("starting acme challenge server")
			if err := a.ChallengeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := 30 * time.Second
	if cfg := a.Config.Get(); cfg.Server.ShutdownTimeout > 0 {
		timeout = cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Config.Stop()

	// In-flight turns finish and settle before the ledger closes.
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.ChallengeServer != nil {
		a.ChallengeServer.Shutdown(ctx)
	}

	if a.sweeper != nil {
		a.sweeper.Close()
	}

	if a.ledger != nil {
		if err := a.ledger.ledger.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("ledger close error")
		}
		if err := a.ledger.close(); err != nil {
			a.Logger.Error().Err(err).Msg("ledger connection close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	a.closeLog()
	return nil
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
