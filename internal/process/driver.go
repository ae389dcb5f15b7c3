package process

import (
	"context"
	"time"
)

// Spec describes a process to launch for a service.
type Spec struct {
	// Name uniquely identifies the process (or container) across all drivers.
	Name   string
	UUID   string
	Type   string
	Topic  string
	Driver string

	Image        string
	Exec         string
	Args         []string
	Env          map[string]string
	ExposedPorts []string
	Network      string
}

// Handle refers to a process started by a driver.
type Handle struct {
	ID      string    `json:"id"`
	Driver  string    `json:"driver"`
	Started time.Time `json:"started"`
}

type Driver interface {
	Type() string
	StartProcess(context.Context, *Spec) (Handle, error)
	// StopProcess returns ErrNoProcFound if no process with the given id is running.
	StopProcess(context.Context, string) error
	IsRunning(context.Context, string) (bool, error)
}

type noopDriver struct {
	driverType string
	running    map[string]bool
}

// NewNoopDriver returns a driver that tracks processes without launching anything.
func NewNoopDriver(driverType string) Driver {
	return &noopDriver{
		driverType: driverType,
		running:    make(map[string]bool),
	}
}

func (d *noopDriver) Type() string {
	return d.driverType
}

func (d *noopDriver) StartProcess(_ context.Context, spec *Spec) (Handle, error) {
	d.running[spec.Name] = true
	return Handle{ID: spec.Name, Driver: d.driverType, Started: time.Now()}, nil
}

func (d *noopDriver) StopProcess(_ context.Context, id string) error {
	if !d.running[id] {
		return ErrNoProcFound
	}
	delete(d.running, id)
	return nil
}

func (d *noopDriver) IsRunning(_ context.Context, id string) (bool, error) {
	return d.running[id], nil
}
