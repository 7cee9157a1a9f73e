package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stopTimeout bounds how long a process may take to exit after SIGINT.
const stopTimeout = 5 * time.Second

// process is a running child such as ffmpeg or ffplay.
type process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	stderr strings.Builder
	err    error
}

// startProcess launches name with args. onLine, when set, receives every
// stderr line as it is read.
func startProcess(name string, args []string, onLine func(string)) (*process, error) {
	cmd := exec.Command(name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Debug("Starting process", "command", name+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &process{name: name, cmd: cmd, done: make(chan struct{})}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readOutput(stdout, "stdout", nil)
	}()
	go func() {
		defer readers.Done()
		p.readOutput(stderr, "stderr", onLine)
	}()
	go func() {
		// pipes must be drained before Wait
		readers.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// readOutput reads from a pipe line by line.
func (p *process) readOutput(pipe io.ReadCloser, label string, onLine func(string)) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine(line)
		}
		if label == "stderr" {
			p.mu.Lock()
			if p.stderr.Len() < 64*1024 {
				p.stderr.WriteString(line + "\n")
			}
			p.mu.Unlock()
		}
	}
	pipe.Close()
}

// Done is closed once the process has exited.
func (p *process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait error; only valid after Done.
func (p *process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

func (p *process) signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// stop sends SIGINT so the child can finalize its output, then kills it if
// it has not exited within stopTimeout or before ctx ends.
func (p *process) stop(ctx context.Context) error {
	select {
	case <-p.done:
		return p.exitResult()
	default:
	}

	slog.Debug("Sending SIGINT", "process", p.name)
	if err := p.signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt, falling back to SIGKILL", "process", p.name, "error", err)
		_ = p.cmd.Process.Kill()
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.exitResult()
	case <-timer.C:
		slog.Warn("Process did not exit within timeout, force killing", "process", p.name)
	case <-ctx.Done():
		slog.Warn("Stop cancelled, force killing", "process", p.name)
	}
	_ = p.cmd.Process.Kill()
	<-p.done
	return nil
}

// kill terminates the process immediately and waits for it.
func (p *process) kill() {
	select {
	case <-p.done:
		return
	default:
	}
	_ = p.cmd.Process.Kill()
	<-p.done
}

// exitResult treats an exit caused by our own interrupt as success.
func (p *process) exitResult() error {
	err := p.ExitErr()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ffmpeg exits 255 after a graceful interrupt
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	slog.Debug("Process stderr", "process", p.name, "output", p.Stderr())
	return fmt.Errorf("%s process failed: %w", p.name, err)
}
