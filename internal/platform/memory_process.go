package platform

import (
	"fmt"
	"sync"
	"time"
)

// ScriptedWindow is a window a scripted app shows some time after launch.
type ScriptedWindow struct {
	After time.Duration
	Size  Size
	// Replaces closes every earlier scripted window when this one appears.
	Replaces bool
}

// AppScript describes how a fake executable behaves once launched.
type AppScript struct {
	Windows []ScriptedWindow
	// ExitAfter ends the process on its own; zero runs until killed.
	ExitAfter time.Duration
	// MinSize is enforced by the app on every resize of its windows.
	MinSize Size
}

// MemoryLauncher launches scripted fake processes inside a Memory window
// system.
type MemoryLauncher struct {
	mem *Memory

	mu      sync.Mutex
	scripts map[string]AppScript
	procs   map[int]*MemoryProcess
	nextPID int
}

var _ Launcher = (*MemoryLauncher)(nil)

// Register binds a script to an executable path.
func (l *MemoryLauncher) Register(path string, script AppScript) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[path] = script
}

func (l *MemoryLauncher) Start(path string, args []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	script, ok := l.scripts[path]
	if !ok {
		return nil, fmt.Errorf("failed to start %s: executable not found", path)
	}
	l.nextPID++
	p := &MemoryProcess{
		launcher: l,
		pid:      l.nextPID,
		script:   script,
		started:  l.mem.clock.Now(),
		created:  make([]Handle, len(script.Windows)),
		done:     make(chan struct{}),
	}
	if l.procs == nil {
		l.procs = make(map[int]*MemoryProcess)
	}
	l.procs[p.pid] = p
	return p, nil
}

// Process returns the running fake process with pid.
func (l *MemoryLauncher) Process(pid int) (*MemoryProcess, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[pid]
	return p, ok
}

// materialize creates the scripted windows that are due for pid.
func (l *MemoryLauncher) materialize(pid int) {
	l.mu.Lock()
	p, ok := l.procs[pid]
	l.mu.Unlock()
	if !ok {
		return
	}
	p.advance()
}

// MemoryProcess is a scripted fake process.
type MemoryProcess struct {
	launcher *MemoryLauncher
	pid      int
	script   AppScript
	started  time.Time

	mu      sync.Mutex
	created []Handle
	done    chan struct{}
	exited  bool
}

func (p *MemoryProcess) PID() int { return p.pid }

func (p *MemoryProcess) Done() <-chan struct{} {
	p.advance()
	return p.done
}

func (p *MemoryProcess) Kill() error {
	p.Exit()
	return nil
}

// Exit ends the process as if it were closed externally.
func (p *MemoryProcess) Exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *MemoryProcess) exitLocked() {
	if p.exited {
		return
	}
	p.exited = true
	for _, h := range p.created {
		if h != 0 {
			_ = p.launcher.mem.DestroyWindow(h)
		}
	}
	close(p.done)
}

func (p *MemoryProcess) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	mem := p.launcher.mem
	elapsed := mem.clock.Now().Sub(p.started)
	if p.script.ExitAfter > 0 && elapsed >= p.script.ExitAfter {
		p.exitLocked()
		return
	}
	for i, sw := range p.script.Windows {
		if p.created[i] != 0 || elapsed < sw.After {
			continue
		}
		if sw.Replaces {
			for j := 0; j < i; j++ {
				if p.created[j] != 0 {
					_ = mem.DestroyWindow(p.created[j])
				}
			}
		}
		h := mem.AddTopLevel("ForeignApp", Rect{X: 100, Y: 100, Width: sw.Size.Width, Height: sw.Size.Height}, p.pid)
		mem.mu.Lock()
		mem.windows[h].minSize = p.script.MinSize
		mem.mu.Unlock()
		p.created[i] = h
	}
}
