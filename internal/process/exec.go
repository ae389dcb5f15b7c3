package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DriverTypeExec = "exec"

	stopTimeout = 3 * time.Second
)

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// execDriver runs services as native child processes of the controller.
type execDriver struct {
	procs map[string]*execProcess
	mu    sync.Mutex
}

var _ Driver = &execDriver{}

func NewExecDriver() Driver {
	return &execDriver{
		procs: make(map[string]*execProcess),
	}
}

func (d *execDriver) Type() string {
	return DriverTypeExec
}

func (d *execDriver) StartProcess(_ context.Context, spec *Spec) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.procs[spec.Name]; ok && !p.exited() {
		return Handle{}, fmt.Errorf("%w: %s", ErrProcessAlreadyRunning, spec.Name)
	}

	// The process must outlive the request that started it, so no context is attached.
	cmd := exec.Command(spec.Exec, spec.Args...)
	cmd.Env = append(os.Environ(), envList(spec.Env)...)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// Bounds Wait if a grandchild keeps the output pipes open.
	cmd.WaitDelay = stopTimeout

	log.Debug().Str("uuid", spec.UUID).Msgf("executing command: %s %v", spec.Exec, spec.Args)
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return Handle{}, fmt.Errorf("failed to start process %s: %w", spec.Name, err)
	}

	go ForwardOutput(stdoutR, spec, "stdout")
	go ForwardOutput(stderrR, spec, "stderr")

	proc := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	d.procs[spec.Name] = proc

	go d.reap(spec, proc, stdoutW, stderrW)

	return Handle{ID: spec.Name, Driver: DriverTypeExec, Started: time.Now()}, nil
}

func (d *execDriver) reap(spec *Spec, proc *execProcess, stdout, stderr io.Closer) {
	err := proc.cmd.Wait()
	stdout.Close()
	stderr.Close()
	if err != nil {
		log.Info().Err(err).Str("uuid", spec.UUID).Msgf("process %s exited", spec.Name)
	} else {
		log.Info().Str("uuid", spec.UUID).Msgf("process %s finished successfully", spec.Name)
	}
	close(proc.done)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.procs[spec.Name] == proc {
		delete(d.procs, spec.Name)
	}
}

func (d *execDriver) StopProcess(_ context.Context, id string) error {
	d.mu.Lock()
	proc, ok := d.procs[id]
	d.mu.Unlock()
	if !ok || proc.exited() {
		return fmt.Errorf("%w: %s", ErrNoProcFound, id)
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msgf("unable to signal process %s, killing it", id)
	}
	select {
	case <-proc.done:
		return nil
	case <-time.After(stopTimeout):
	}

	if err := proc.cmd.Process.Kill(); err != nil && !proc.exited() {
		return fmt.Errorf("failed to kill process %s: %w", id, err)
	}
	<-proc.done
	return nil
}

func (d *execDriver) IsRunning(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proc, ok := d.procs[id]
	return ok && !proc.exited(), nil
}

func envList(env map[string]string) []string {
	res := make([]string, 0, len(env))
	for k, v := range env {
		res = append(res, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(res)
	return res
}
