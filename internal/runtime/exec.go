package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
const waitDelay = 2 * time.Second

// ExecRuntime implements the Runtime interface using raw OS processes.
// The Image field of StartOptions is ignored.
type ExecRuntime struct {
	WorkDir string
}

// NewExecRuntime creates a process-based runtime that runs commands in workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "uploadplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// lockedBuffer lets the exec copy goroutine write while readers snapshot.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// ExecHandle is a running subprocess.
type ExecHandle struct {
	cmd    *exec.Cmd
	runCtx context.Context
	cancel context.CancelFunc

	stdout lockedBuffer
	stderr lockedBuffer

	done    chan struct{}
	waitErr error
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	dir := e.WorkDir
	if opts.Name != "" {
		dir = filepath.Join(e.WorkDir, opts.Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	h := &ExecHandle{runCtx: runCtx, cancel: cancel, done: make(chan struct{})}

	cmd := exec.CommandContext(runCtx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr
	cmd.WaitDelay = waitDelay
	h.cmd = cmd

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

// ID returns the process id.
func (h *ExecHandle) ID() string {
	return strconv.Itoa(h.cmd.Process.Pid)
}

func (h *ExecHandle) result(code int, err error) ExitResult {
	return ExitResult{
		ExitCode: code,
		Stdout:   h.stdout.Bytes(),
		Stderr:   h.stderr.Bytes(),
		Error:    err,
	}
}

// Wait blocks until the process exits, the timeout fires or ctx is done.
// Output captured so far is returned in every case.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.cancel()
		<-h.done
		return h.result(-1, ctx.Err()), ctx.Err()
	}
	defer h.cancel()

	if errors.Is(h.runCtx.Err(), context.DeadlineExceeded) {
		return h.result(-1, context.DeadlineExceeded), context.DeadlineExceeded
	}

	if h.waitErr == nil {
		return h.result(0, nil), nil
	}

	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return h.result(code, nil), nil
		}
		// terminated by a signal
		return h.result(-1, h.waitErr), nil
	}
	return h.result(-1, h.waitErr), nil
}

// Stop sends SIGTERM and kills the process if it is still alive when ctx ends.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		h.cancel()
		<-h.done
		return nil
	}
}

// StreamLogs waits for the process to finish and returns its combined output.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := append(h.stdout.Bytes(), h.stderr.Bytes()...)
	return io.NopCloser(bytes.NewReader(out)), nil
}
