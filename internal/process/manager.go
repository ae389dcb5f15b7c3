package process

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ProcessManager supervises service processes across the registered drivers.
type ProcessManager interface {
	// StartProcess launches the process with the driver named in its Spec.
	StartProcess(context.Context, *Spec) (Handle, error)
	// StopProcess stops the process with the given id. Stopping a process that is not running
	// is not an error.
	StopProcess(context.Context, string) error
	// IsRunning reports whether the process runs, and under which driver.
	IsRunning(context.Context, string) (bool, string, error)
}

var (
	ErrDriverNotFound        = errors.New("no driver found")
	ErrNoProcFound           = errors.New("no process found")
	ErrProcessAlreadyRunning = errors.New("process already running")
)

type baseProcessManager struct {
	drivers map[string]Driver
	// owners maps the id of every process started through the manager to its driver type.
	owners map[string]string
	mu     sync.Mutex
}

func NewProcessManager(drivers []Driver) ProcessManager {
	pm := &baseProcessManager{
		drivers: make(map[string]Driver),
		owners:  make(map[string]string),
	}
	for _, driver := range drivers {
		pm.drivers[driver.Type()] = driver
	}
	return pm
}

func (pm *baseProcessManager) IsRunning(ctx context.Context, id string) (bool, string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.isRunning(ctx, id)
}

func (pm *baseProcessManager) isRunning(ctx context.Context, id string) (bool, string, error) {
	if owner, ok := pm.owners[id]; ok {
		running, err := pm.drivers[owner].IsRunning(ctx, id)
		return running, owner, err
	}

	var derr error
	for _, driver := range pm.drivers {
		ok, err := driver.IsRunning(ctx, id)
		if ok && err == nil {
			return true, driver.Type(), nil
		} else if err != nil {
			derr = err
		}
	}
	return false, "", derr
}

func (pm *baseProcessManager) StartProcess(ctx context.Context, spec *Spec) (Handle, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	driver, ok := pm.drivers[spec.Driver]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrDriverNotFound, spec.Driver)
	}
	ok, err := driver.IsRunning(ctx, spec.Name)
	if ok && err == nil {
		pm.owners[spec.Name] = driver.Type()
		return Handle{}, fmt.Errorf("%w: %s", ErrProcessAlreadyRunning, spec.Name)
	} else if err != nil {
		return Handle{}, err
	}

	proc, err := driver.StartProcess(ctx, spec)
	if err != nil {
		return Handle{}, err
	}
	pm.owners[spec.Name] = driver.Type()
	return proc, nil
}

// StopProcess stops the process through the driver that started it. Processes the manager did
// not start are looked up on every driver. A process no reachable driver knows counts as
// stopped, so stopping is idempotent even while a driver's backend is down.
func (pm *baseProcessManager) StopProcess(ctx context.Context, id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if owner, ok := pm.owners[id]; ok {
		err := pm.drivers[owner].StopProcess(ctx, id)
		if err != nil && !errors.Is(err, ErrNoProcFound) {
			return err
		}
		delete(pm.owners, id)
		return nil
	}

	for _, driver := range pm.drivers {
		err := driver.StopProcess(ctx, id)
		if err == nil {
			return nil
		} else if !errors.Is(err, ErrNoProcFound) {
			log.Warn().Err(err).Str("driver", driver.Type()).Str("id", id).Msg("unable to look up process")
		}
	}
	return nil
}
