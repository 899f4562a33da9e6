package lsp

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// trackedPIDs is the process-scope set of language-server process
// groups. It exists so that a crash of the broker parent does not leak
// server children: SweepTrackedProcesses is registered as an at-exit
// hook by the CLI.
var trackedPIDs = struct {
	mu   sync.Mutex
	pids map[int]struct{}
}{pids: make(map[int]struct{})}

func trackPID(pid int) {
	trackedPIDs.mu.Lock()
	trackedPIDs.pids[pid] = struct{}{}
	trackedPIDs.mu.Unlock()
}

func untrackPID(pid int) {
	trackedPIDs.mu.Lock()
	delete(trackedPIDs.pids, pid)
	trackedPIDs.mu.Unlock()
}

// SweepTrackedProcesses kills every tracked server process group.
// Intended for process-exit cleanup paths only.
func SweepTrackedProcesses() {
	trackedPIDs.mu.Lock()
	pids := make([]int, 0, len(trackedPIDs.pids))
	for pid := range trackedPIDs.pids {
		pids = append(pids, pid)
	}
	trackedPIDs.pids = make(map[int]struct{})
	trackedPIDs.mu.Unlock()

	for _, pid := range pids {
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
}

// serverProcess is a running language-server child with its stdio
// pipes. The child is placed in its own process group so descendants
// it forks (indexers, renderers) die with it.
type serverProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	pid    int

	stderrLog *os.File
	exitCh    chan error
	done      chan struct{}
	waitOnce  sync.Once
}

// stderrLogLimit caps a server's stderr capture file. When exceeded the
// file is truncated and capture restarts (a single rotation keeps the
// most recent output without unbounded growth).
const stderrLogLimit = 4 << 20

// spawnServer starts the language server with the project root as
// working directory. Env is the parent environment plus config.Env.
// Stderr is captured to logPath.
func spawnServer(config ServerConfig, rootPath, logPath string, log *zap.Logger) (*serverProcess, error) {
	cmd := exec.Command(config.Command, config.Args...)

	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if config.WorkDir != "" {
		cmd.Dir = config.WorkDir
	} else {
		cmd.Dir = rootPath
	}

	// New process group: shutdown kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var logFile *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				log.Debug("stderr capture unavailable", zap.String("path", logPath), zap.Error(err))
			}
		}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", config.Command, err)
	}

	p := &serverProcess{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		pid:       cmd.Process.Pid,
		stderrLog: logFile,
		exitCh:    make(chan error, 1),
		done:      make(chan struct{}),
	}
	trackPID(p.pid)

	go p.captureStderr(stderr)
	go p.wait()

	return p, nil
}

// captureStderr copies server stderr to the capture file, truncating
// when the file grows past stderrLogLimit.
func (p *serverProcess) captureStderr(stderr io.Reader) {
	buf := make([]byte, 8192)
	for {
		n, err := stderr.Read(buf)
		if n > 0 && p.stderrLog != nil {
			if info, serr := p.stderrLog.Stat(); serr == nil && info.Size() > stderrLogLimit {
				_ = p.stderrLog.Truncate(0)
				_, _ = p.stderrLog.Seek(0, io.SeekStart)
			}
			_, _ = p.stderrLog.Write(buf[:n])
		}
		if err != nil {
			if p.stderrLog != nil {
				p.stderrLog.Close()
			}
			return
		}
	}
}

// wait reaps the child and publishes the exit error.
func (p *serverProcess) wait() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		untrackPID(p.pid)
		select {
		case p.exitCh <- err:
		default:
		}
		close(p.done)
	})
}

// ExitChannel receives once when the process exits.
func (p *serverProcess) ExitChannel() <-chan error {
	return p.exitCh
}

// terminate asks the process group to exit, waits up to grace, then
// kills the tree.
func (p *serverProcess) terminate(grace time.Duration) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}

	p.stdin.Close()
	_ = unix.Kill(-p.pid, unix.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	_ = unix.Kill(-p.pid, unix.SIGKILL)
	untrackPID(p.pid)
}

// alive reports whether the child has not yet exited.
func (p *serverProcess) alive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	return unix.Kill(p.pid, 0) == nil
}
