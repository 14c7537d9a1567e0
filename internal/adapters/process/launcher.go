package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
)

// Launcher starts workers as local child processes.
type Launcher struct {
	logger *slog.Logger
	grace  time.Duration
}

// NewLauncher creates a launcher whose cancelled workers get SIGTERM and,
// grace later, SIGKILL. A non-positive grace kills them immediately.
func NewLauncher(logger *slog.Logger, grace time.Duration) *Launcher {
	return &Launcher{logger: logger, grace: grace}
}

// Ensure Launcher implements ports.Launcher
var _ ports.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, inv domain.Invocation, capture bool) (ports.Process, error) {
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	// exec never escalates with a zero WaitDelay, so no grace means kill at once.
	if l.grace > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = l.grace
	}

	p := &process{cmd: cmd}
	if capture {
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()
		cmd.Stdout = outW
		cmd.Stderr = errW
		p.stdout, p.stderr = outR, errR
		p.writers = []*io.PipeWriter{outW, errW}
	}

	if err := cmd.Start(); err != nil {
		p.closeStreams()
		return nil, fmt.Errorf("start %s: %w", inv.Program, err)
	}
	l.logger.Debug("worker process started", "pid", cmd.Process.Pid, "worker", inv.Labels[domain.LabelWorker])
	return p, nil
}

type process struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  io.Reader
	writers []*io.PipeWriter
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	p.closeStreams()

	if err == nil {
		return 0, nil
	}

	// The process exited but something kept its output pipes open.
	if errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil && p.cmd.ProcessState.Exited() {
		return p.cmd.ProcessState.ExitCode(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Killed by a signal: there is no exit code to propagate.
		return 1, fmt.Errorf("worker %s", exitErr.ProcessState)
	}
	return 1, fmt.Errorf("wait: %w", err)
}

func (p *process) closeStreams() {
	for _, w := range p.writers {
		_ = w.Close()
	}
}
