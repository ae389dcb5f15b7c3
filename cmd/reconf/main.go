package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManyThreads/horme/internal/api"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/ManyThreads/horme/internal/config"
	"github.com/ManyThreads/horme/internal/controller"
	"github.com/ManyThreads/horme/internal/docker"
	"github.com/ManyThreads/horme/internal/failure"
	"github.com/ManyThreads/horme/internal/launch"
	"github.com/ManyThreads/horme/internal/logging"
	"github.com/ManyThreads/horme/internal/monitor"
	"github.com/ManyThreads/horme/internal/process"
	"github.com/ManyThreads/horme/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	v := viper.New()
	flags := pflag.NewFlagSet("reconf", pflag.ExitOnError)
	if err := config.BindFlags(v, flags); err != nil {
		log.Fatal().Err(err).Msg("unable to bind flags")
	}
	flags.Parse(os.Args[1:])

	cfg, err := config.NewConfig(v)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	logging.NewLogger(cfg.LogLevel())

	// ctx is cancelled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open storage")
	}
	defer closeStore()

	messageBus, err := openBus(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to the message bus")
	}
	defer messageBus.Close()

	loader := launch.NewFileLoader(cfg.LaunchDir(), cfg.LaunchDriver())
	drivers, err := newDrivers(cfg, loader)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to set up process drivers")
	}

	ctrl := controller.NewController(
		&controller.Config{
			Apartment: cfg.Apartment(),
			MQTTHost:  cfg.MQTTHost(),
			LogLevel:  cfg.LogLevel(),
		},
		store,
		loader,
		process.NewProcessManager(drivers),
		messageBus,
	)

	handler, err := failure.NewHandler(cfg.FailurePolicy(), ctrl, cfg.FailureTimeSpan())
	if err != nil {
		log.Fatal().Err(err).Msg("unable to set up failure handling")
	}

	deviceMonitor := monitor.NewMonitor(messageBus, cfg.Apartment())
	if err := deviceMonitor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to start device monitor")
	}
	ctrl.OnRemoval(deviceMonitor.Forget)

	if err := ctrl.Reconcile(ctx, true); err != nil {
		log.Fatal().Err(err).Msg("unable to bring up persisted services")
	}

	failureCtrl := failure.NewController(messageBus, handler, cfg.Apartment(), cfg.FailureRooms())
	if err := failureCtrl.Start(ctx); err != nil {
		ctrl.CleanUp(context.Background())
		log.Fatal().Err(err).Msg("unable to subscribe to failure reports")
	}

	router := api.NewRouter([]api.Route{
		api.NewHealthRoute(),
		api.NewListServicesRoute(store, ctrl, deviceMonitor),
		api.NewCreateServiceRoute(store, ctrl),
		api.NewPatchServiceRoute(store, ctrl),
		api.NewRestartServiceRoute(store, ctrl),
		api.NewDeleteServiceRoute(store, ctrl),
	})
	apiServer := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// egCtx is cancelled if any function called with eg.Go() returns an error.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(serveFn(apiServer))

	select {
	case <-egCtx.Done():
		log.Error().Err(egCtx.Err()).Msg("api server failed, shutting down")
		cancel()
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error on api server shutdown")
	}
	ctrl.CleanUp(shutdownCtx)

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("received error on shutdown")
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.PersistentStorage, func(), error) {
	var (
		store     storage.PersistentStorage
		closeFunc = func() {}
	)
	switch cfg.StorageBackend() {
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStorage(cfg.StoragePath())
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFunc = func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("error closing sqlite storage")
			}
		}
	case config.StorageRedis:
		s, err := storage.NewRedisStorage(ctx, &storage.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Username: cfg.RedisUser(),
			Password: cfg.RedisPassword(),
			DB:       cfg.RedisDB(),
			Prefix:   cfg.RedisPrefix(),
		})
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFunc = func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis storage")
			}
		}
	default:
		store = storage.NewMemoryStorage()
	}

	if cfg.StorageSeed() {
		if err := storage.Seed(ctx, store); err != nil {
			closeFunc()
			return nil, nil, errors.Wrap(err, "error seeding storage")
		}
	}
	log.Info().Str("backend", cfg.StorageBackend()).Msg("storage ready")
	return store, closeFunc, nil
}

func openBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	if cfg.Bus() == config.BusMemory {
		log.Warn().Msg("using the in-process message bus, services cannot connect")
		return bus.NewMemoryBus(), nil
	}
	b, err := bus.NewMQTTBus(ctx, &bus.MQTTConfig{
		Host:     cfg.MQTTHost(),
		Username: cfg.MQTTUser(),
		Password: cfg.MQTTPassword(),
		QoS:      cfg.MQTTQoS(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to mqtt")
	}
	return b, nil
}

// newDrivers registers the exec and noop drivers, plus the docker driver if any launch config
// needs it.
func newDrivers(cfg *config.Config, loader *launch.FileLoader) ([]process.Driver, error) {
	drivers := []process.Driver{
		process.NewExecDriver(),
		process.NewNoopDriver(launch.DriverNoop),
	}
	used, err := loader.Drivers()
	if err != nil {
		return nil, errors.Wrap(err, "error reading launch configs")
	}
	if !used[launch.DriverDocker] {
		return drivers, nil
	}
	dockerDriver, err := docker.NewDriver(cfg.DockerNetwork())
	if err != nil {
		return nil, errors.Wrap(err, "error creating docker driver")
	}
	return append(drivers, dockerDriver), nil
}

// serveFn returns a callback running srv, for use in an errgroup.
func serveFn(srv *http.Server) func() error {
	return func() error {
		log.Info().Msgf("starting api server at %s", srv.Addr)
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server closed with abnormal error")
			return err
		}
		return nil
	}
}
