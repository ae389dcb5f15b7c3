package test_helpers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManyThreads/horme/internal/process"
)

type Entry struct {
	IsStart bool
	ID      string
	Spec    *process.Spec
}

// RecordingDriver is a process driver for tests which records every start and stop in order.
type RecordingDriver struct {
	// StartErr, if set, is returned by every StartProcess call.
	StartErr error

	name    string
	log     []Entry
	running map[string]bool
	mu      sync.Mutex
}

var _ process.Driver = &RecordingDriver{}

func NewRecordingDriver(name string) *RecordingDriver {
	return &RecordingDriver{
		name:    name,
		running: make(map[string]bool),
	}
}

func (d *RecordingDriver) Type() string {
	return d.name
}

func (d *RecordingDriver) StartProcess(_ context.Context, spec *process.Spec) (process.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return process.Handle{}, d.StartErr
	}
	s := *spec
	d.log = append(d.log, Entry{IsStart: true, ID: spec.Name, Spec: &s})
	d.running[spec.Name] = true
	return process.Handle{ID: spec.Name, Driver: d.name, Started: time.Now()}, nil
}

func (d *RecordingDriver) StopProcess(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running[id] {
		return fmt.Errorf("%w: %s", process.ErrNoProcFound, id)
	}
	delete(d.running, id)
	d.log = append(d.log, Entry{IsStart: false, ID: id})
	return nil
}

func (d *RecordingDriver) IsRunning(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[id], nil
}

// Crash marks a process as exited without recording a stop.
func (d *RecordingDriver) Crash(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, id)
}

func (d *RecordingDriver) Log() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Entry(nil), d.log...)
}

func (d *RecordingDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

func (d *RecordingDriver) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]string, 0, len(d.running))
	for id := range d.running {
		res = append(res, id)
	}
	return res
}

// UnreachableDriver fails every call, like a driver whose daemon is down.
type UnreachableDriver struct {
	Name string
}

var _ process.Driver = UnreachableDriver{}

var ErrUnreachable = errors.New("daemon unreachable")

func (d UnreachableDriver) Type() string {
	return d.Name
}

func (d UnreachableDriver) StartProcess(context.Context, *process.Spec) (process.Handle, error) {
	return process.Handle{}, ErrUnreachable
}

func (d UnreachableDriver) StopProcess(context.Context, string) error {
	return ErrUnreachable
}

func (d UnreachableDriver) IsRunning(context.Context, string) (bool, error) {
	return false, ErrUnreachable
}
