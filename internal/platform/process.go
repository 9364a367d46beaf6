package platform

import (
	"fmt"
	"os/exec"
	"sync"
)

// Process is a launched foreign process.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Kill terminates the process forcibly.
	Kill() error
}

// Launcher starts foreign processes by executable path and arguments.
type Launcher interface {
	Start(path string, args []string) (Process, error)
}

// ExecLauncher launches real processes via os/exec.
type ExecLauncher struct{}

var _ Launcher = ExecLauncher{}

func (ExecLauncher) Start(path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	killMu  sync.Mutex
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Kill() error {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
