package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/ManyThreads/horme/internal/launch"
	"github.com/ManyThreads/horme/internal/process"
	"github.com/ManyThreads/horme/internal/storage"
	"github.com/rs/zerolog/log"
)

const processNamePrefix = "horme-"

// Environment passed to every launched service.
const (
	EnvServiceTopic = "HORME_SERVICE_TOPIC"
	EnvServiceUUID  = "HORME_SERVICE_UUID"
	EnvMQTTHost     = "HORME_MQTT_HOST"
	EnvLogLevel     = "HORME_LOG_LEVEL"
	EnvApartment    = "HORME_APARTMENT"
)

type Config struct {
	Apartment string
	// MQTTHost is the broker address handed to the services.
	MQTTHost string
	LogLevel string
}

// Controller owns the live service handles. It starts and stops the backing processes and
// keeps the subscriptions of every service in line with the persisted dependency graph.
// All operations are serialized.
type Controller struct {
	config         *Config
	storage        storage.PersistentStorage
	loader         launch.Loader
	processManager process.ProcessManager
	bus            bus.Bus
	factory        *Factory
	now            func() time.Time

	handles map[service.UUID]*ServiceHandle
	// versions holds the last version handed out per uuid. It outlives handles that are torn
	// down or never got a process, so versions never go back.
	versions  map[service.UUID]int
	onRemoval []func(service.UUID)
	mu        sync.Mutex
}

func NewController(
	config *Config,
	storage storage.PersistentStorage,
	loader launch.Loader,
	processManager process.ProcessManager,
	bus bus.Bus,
) *Controller {
	return &Controller{
		config:         config,
		storage:        storage,
		loader:         loader,
		processManager: processManager,
		bus:            bus,
		factory:        NewFactory(config.Apartment, time.Now),
		now:            time.Now,
		handles:        make(map[service.UUID]*ServiceHandle),
		versions:       make(map[service.UUID]int),
	}
}

// OnRemoval registers fn to be called with the uuid of every service that left the persisted
// topology, once the controller has let go of it. fn runs with the controller locked and must
// not call back into it.
func (c *Controller) OnRemoval(fn func(uuid service.UUID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoval = append(c.onRemoval, fn)
}

// ProcessName is the name of the process or container backing the service.
func ProcessName(uuid service.UUID) string {
	return processNamePrefix + uuid
}

// StartService starts the service, reusing its handle if it has one. A service without a
// persisted entry or launch config is left alone.
func (c *Controller) StartService(ctx context.Context, uuid service.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok, err := c.storage.QueryService(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("uuid", uuid).Msg("no persisted entry for service, not starting it")
		return nil
	}
	return c.startLocked(ctx, entry, false)
}

func (c *Controller) startLocked(ctx context.Context, entry *service.ServiceEntry, init bool) error {
	config, err := c.loader.Load(entry.Type)
	if err != nil {
		log.Error().Err(err).Str("uuid", entry.UUID).Str("type", entry.Type).Msg("unable to load launch config, not starting service")
		return nil
	}

	topic := service.BuildTopic(c.config.Apartment, entry)
	h, ok := c.handles[entry.UUID]
	if !ok {
		h = c.factory.CreateServiceHandle(entry, topic)
		h.Info.Version = c.versions[entry.UUID]
	}
	h.Info.Version++
	c.versions[entry.UUID] = h.Info.Version
	h.LastUpdate = c.now()

	if err := c.configureLocked(ctx, h, entry.DependsOn, init); err != nil {
		log.Error().Err(err).Str("uuid", entry.UUID).Str("topic", topic).Msg("unable to publish service configuration")
	}

	spec := c.processSpec(entry, config, topic)
	proc, err := c.processManager.StartProcess(ctx, spec)
	if errors.Is(err, process.ErrProcessAlreadyRunning) {
		log.Warn().Str("uuid", entry.UUID).Msg("process of service still running, stopping it first")
		if err := c.processManager.StopProcess(ctx, spec.Name); err != nil {
			return fmt.Errorf("stopping leftover process of %s: %w", entry.UUID, err)
		}
		proc, err = c.processManager.StartProcess(ctx, spec)
	}
	if err != nil {
		return fmt.Errorf("starting service %s: %w", entry.UUID, err)
	}

	h.Process = &proc
	c.handles[entry.UUID] = h
	log.Info().Str("uuid", entry.UUID).Str("topic", topic).Int("version", h.Info.Version).Msg("started service")
	return nil
}

func (c *Controller) processSpec(entry *service.ServiceEntry, config *launch.Config, topic string) *process.Spec {
	env := make(map[string]string, len(config.Env)+5)
	for k, v := range config.Env {
		env[k] = v
	}
	env[EnvServiceTopic] = topic
	env[EnvServiceUUID] = entry.UUID
	env[EnvMQTTHost] = c.config.MQTTHost
	env[EnvLogLevel] = c.config.LogLevel
	env[EnvApartment] = c.config.Apartment

	return &process.Spec{
		Name:         ProcessName(entry.UUID),
		UUID:         entry.UUID,
		Type:         entry.Type,
		Topic:        topic,
		Driver:       config.Driver,
		Image:        config.Image,
		Exec:         config.Exec,
		Args:         config.Args,
		Env:          env,
		ExposedPorts: config.ExposedPorts,
		Network:      config.Network,
	}
}

// StopService terminates the backing process. Stopping a service that does not run succeeds.
func (c *Controller) StopService(ctx context.Context, uuid service.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, uuid)
}

func (c *Controller) stopLocked(ctx context.Context, uuid service.UUID) error {
	if err := c.processManager.StopProcess(ctx, ProcessName(uuid)); err != nil {
		return fmt.Errorf("stopping service %s: %w", uuid, err)
	}
	if h, ok := c.handles[uuid]; ok {
		h.Process = nil
	}
	log.Info().Str("uuid", uuid).Msg("stopped service")
	return nil
}

// RestartService stops and starts the service with unchanged dependencies.
func (c *Controller) RestartService(ctx context.Context, uuid service.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stopLocked(ctx, uuid); err != nil {
		return err
	}
	entry, ok, err := c.storage.QueryService(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("uuid", uuid).Msg("no persisted entry for service, not restarting it")
		return nil
	}
	return c.startLocked(ctx, entry, false)
}

// GetHandle returns a copy of the handle of uuid.
func (c *Controller) GetHandle(uuid service.UUID) (*ServiceHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[uuid]
	if !ok {
		return nil, false
	}
	return h.clone(), true
}

// Handles returns a consistent snapshot of every handle, ordered by uuid.
func (c *Controller) Handles() []*ServiceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]*ServiceHandle, 0, len(c.handles))
	for _, uuid := range c.sortedUUIDs() {
		res = append(res, c.handles[uuid].clone())
	}
	return res
}

func (c *Controller) sortedUUIDs() []service.UUID {
	uuids := make([]service.UUID, 0, len(c.handles))
	for uuid := range c.handles {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	return uuids
}

// CleanUp stops every managed process. Failures are logged and do not stop the remaining ones.
func (c *Controller) CleanUp(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Info().Msgf("stopping %d services", len(c.handles))
	for _, uuid := range c.sortedUUIDs() {
		if err := c.stopLocked(ctx, uuid); err != nil {
			log.Error().Err(err).Str("uuid", uuid).Msg("unable to stop service during clean up")
		}
	}
}
