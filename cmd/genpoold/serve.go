package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"genpool/internal/browser"
	"genpool/internal/common/fsutil"
	"genpool/internal/config"
	"genpool/internal/httpapi"
	"genpool/internal/manager"
	"genpool/internal/registry"
	"genpool/internal/studio"
	"genpool/pkg/types"
)

const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := opts.resolve(cmd.Flags())
	if err != nil {
		return err
	}
	log := defaultLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve runs both servers and the pool until ctx is done, then shuts down
// in order: listeners first, then the pool, then the browser driver.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	dir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return err
	}
	cfg.DataDir = dir
	configureHTTP(ctx, cfg, log)

	store, err := registry.NewFileStore(cfg.InstancesFile())
	if err != nil {
		return err
	}
	driver := browser.NewDriver(browser.Options{
		Browser:   cfg.Browser,
		Headless:  cfg.Headless,
		Install:   cfg.InstallBrowsers,
		CookieDir: cfg.CookieDir(),
		UserAgent: cfg.UserAgent,
		Logger:    loggerFor(log, "browser"),
	})
	events := manager.NewBroadcaster(0)
	mgr := manager.NewWithConfig(managerConfig(cfg, driver, store, events, log))

	created, err := bootstrap(mgr, cfg.Bootstrap)
	if err != nil {
		return err
	}
	if cfg.Autostart {
		n := mgr.StartAll()
		log.Info().Int("count", n).Msg("autostart")
	} else {
		for _, id := range created {
			if err := mgr.StartInstance(id); err != nil {
				log.Warn().Err(err).Str("instance_id", id).Msg("start bootstrap instance")
			}
		}
	}

	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: httpapi.NewMux(mgr), ReadHeaderTimeout: 10 * time.Second}
	mgmtSrv := &http.Server{Addr: cfg.ManagementAddr, Handler: httpapi.NewManagementMux(mgr, events), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return listen(apiSrv, "api", log) })
	g.Go(func() error { return listen(mgmtSrv, "management", log) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		var errs []error
		for _, srv := range []*http.Server{apiSrv, mgmtSrv} {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		cctx, ccancel := context.WithTimeout(context.Background(), cfg.DrainTimeout()+shutdownGrace)
		defer ccancel()
		if err := mgr.Close(cctx); err != nil {
			errs = append(errs, fmt.Errorf("close pool: %w", err))
		}
		if err := driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop browser driver: %w", err))
		}
		return errors.Join(errs...)
	})
	err = g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("exit")
		return err
	}
	log.Info().Msg("bye")
	return nil
}

func listen(srv *http.Server, name string, log zerolog.Logger) error {
	log.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func configureHTTP(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeoutSeconds(int64(cfg.RequestTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)
}

func managerConfig(cfg config.Config, driver *browser.Driver, store manager.MetadataStore, events *manager.Broadcaster, log zerolog.Logger) manager.ManagerConfig {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	return manager.ManagerConfig{
		Factory: studio.NewFactory(studio.FactoryOptions{
			Driver:    driver,
			Simulated: studio.SimulatedOptions{Latency: cfg.SimulatedLatency()},
			Logger:    loggerFor(log, "studio"),
		}),
		DefaultKind:        types.ServiceKind(cfg.DefaultService),
		Store:              store,
		Publisher:          manager.MultiPublisher{events, eventLogger{log: log.With().Str("component", "pool").Logger()}},
		Logger:             loggerFor(log, "manager"),
		MaxRetries:         maxRetries,
		TaskTimeout:        cfg.TaskTimeout(),
		StartTimeout:       cfg.StartTimeout(),
		CleanupTimeout:     cfg.CleanupTimeout(),
		QueueTimeout:       cfg.QueueTimeout(),
		MaxQueueDepth:      cfg.MaxQueueDepth,
		ProbeInterval:      cfg.ProbeInterval(),
		ProbeTimeout:       cfg.ProbeTimeout(),
		FailureThreshold:   cfg.FailureThreshold,
		DisableAutoRestart: !cfg.AutoRestart,
		MaxRestarts:        cfg.MaxRestarts,
		RestartBackoff:     cfg.RestartBackoff(),
		MaxRestartBackoff:  cfg.MaxRestartBackoff(),
		DrainTimeout:       cfg.DrainTimeout(),
	}
}

// bootstrap tops up each requested service to its count and returns the ids
// it created. Restored instances count toward the target.
func bootstrap(mgr *manager.Manager, want []config.Bootstrap) ([]string, error) {
	have := map[types.ServiceKind]int{}
	for _, in := range mgr.ListInstances() {
		have[in.Kind]++
	}
	var created []string
	for _, b := range want {
		kind := types.ServiceKind(b.Service)
		for have[kind] < b.Count {
			info, err := mgr.CreateInstance(kind, "")
			if err != nil {
				return created, fmt.Errorf("bootstrap %s: %w", kind, err)
			}
			created = append(created, info.ID)
			have[kind]++
		}
	}
	return created, nil
}

func loggerFor(log zerolog.Logger, component string) *zerolog.Logger {
	l := log.With().Str("component", component).Logger()
	return &l
}

