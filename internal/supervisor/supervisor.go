// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package supervisor launches and tears down node processes. Every spawned
// process and working directory is owned by exactly one NodeHandle and is
// released on every exit path, including test panics, via Release and
// testing cleanup hooks.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gitlab.com/tesseratest/tessera/internal/ledger"
	"gitlab.com/tesseratest/tessera/internal/wire"
)

// LaunchError reports that the OS could not create the process.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch node: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ReadyTimeoutError reports that the node process started but never became
// ready. Stderr carries the tail of the node's stderr for diagnosis.
type ReadyTimeoutError struct {
	Stderr string
	Err    error
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("node not ready: %v\nstderr tail:\n%s", e.Err, e.Stderr)
}
func (e *ReadyTimeoutError) Unwrap() error { return e.Err }

// ReadyFunc probes a node for readiness. The default dials the ABCI socket
// and round-trips an Echo.
type ReadyFunc func(ctx context.Context, opts Options, addr string) error

// Options configures a Supervisor. One Supervisor spawns nodes of one
// flavor and binary; handles it spawns never share directories or ports.
type Options struct {
	Binary       string
	Flavor       wire.Flavor
	Transport    string // "unix" (default) or "tcp"
	ChainID      string
	CallTimeout  time.Duration
	ReadyTimeout time.Duration
	GracePeriod  time.Duration
	Logger       zerolog.Logger
	Ready        ReadyFunc

	// Fault injection passed through to the node config; used by tests
	// that prove divergence detection works.
	FaultHeight  int64
	FaultAccount string
}

type Supervisor struct {
	opts Options
}

func New(opts Options) *Supervisor {
	if opts.Transport == "" {
		opts.Transport = "unix"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 3 * time.Second
	}
	if opts.Ready == nil {
		opts.Ready = echoReady
	}
	return &Supervisor{opts: opts}
}

// Spawn launches the node in a fresh working directory and blocks until it
// answers a readiness probe or the ready timeout elapses. On failure no
// process or directory is left behind.
func (s *Supervisor) Spawn(ctx context.Context) (*NodeHandle, error) {
	dir, err := os.MkdirTemp("", "tessera-node-")
	if err != nil {
		return nil, &LaunchError{Err: err}
	}
	addr, err := s.allocateAddr(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, &LaunchError{Err: err}
	}
	h, err := s.start(ctx, dir, addr)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return h, nil
}

// Respawn relaunches a terminated node on its existing working directory
// and address, for crash-recovery scenarios. The caller must have called
// Stop (not Release) on the handle.
func (s *Supervisor) Respawn(ctx context.Context, h *NodeHandle) (*NodeHandle, error) {
	if h.released {
		return nil, fmt.Errorf("respawn: handle was released")
	}
	return s.start(ctx, h.workDir, h.addr)
}

func (s *Supervisor) start(ctx context.Context, dir, addr string) (*NodeHandle, error) {
	cfg := &ledger.Config{
		Listen:       addr,
		Flavor:       s.opts.Flavor.String(),
		DBDir:        filepath.Join(dir, "data"),
		LogLevel:     "info",
		FaultHeight:  s.opts.FaultHeight,
		FaultAccount: s.opts.FaultAccount,
	}
	cfgPath := filepath.Join(dir, "ledgerd.toml")
	if err := cfg.Save(cfgPath); err != nil {
		return nil, &LaunchError{Err: err}
	}

	stderr := newTailBuffer(16 * 1024)
	cmd := exec.Command(s.opts.Binary, "--config", cfgPath)
	cmd.Dir = dir
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Err: err}
	}
	s.opts.Logger.Info().Int("pid", cmd.Process.Pid).Str("addr", addr).Msg("Spawned node")

	h := &NodeHandle{
		sup:      s,
		workDir:  dir,
		addr:     addr,
		cmd:      cmd,
		stderr:   stderr,
		waitDone: make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()

	if err := s.awaitReady(ctx, addr); err != nil {
		_ = h.Stop(context.Background())
		return nil, &ReadyTimeoutError{Stderr: stderr.String(), Err: err}
	}
	return h, nil
}

func (s *Supervisor) awaitReady(ctx context.Context, addr string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = s.opts.ReadyTimeout
	return backoff.Retry(func() error {
		return s.opts.Ready(ctx, s.opts, addr)
	}, backoff.WithContext(b, ctx))
}

func echoReady(ctx context.Context, opts Options, addr string) error {
	t, err := wire.Dial(wire.DialConfig{
		Flavor:  opts.Flavor,
		Addr:    addr,
		ChainID: opts.ChainID,
		Timeout: time.Second,
	})
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	msg, err := t.Echo(ctx, "ready?")
	if err != nil {
		return err
	}
	if msg != "ready?" {
		return fmt.Errorf("echo mismatch: %q", msg)
	}
	return nil
}

// allocateAddr assigns a unique endpoint per handle: a socket file inside
// the node's own directory, or a probed loopback port. The TCP probe has an
// inherent rebind race; unix is the default for a reason.
func (s *Supervisor) allocateAddr(dir string) (string, error) {
	switch s.opts.Transport {
	case "unix":
		return "unix://" + filepath.Join(dir, "abci.sock"), nil
	case "tcp":
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", err
		}
		addr := ln.Addr().String()
		_ = ln.Close()
		return "tcp://" + addr, nil
	default:
		return "", fmt.Errorf("unknown transport %q", s.opts.Transport)
	}
}

// NodeHandle owns one spawned process and its working directory.
type NodeHandle struct {
	sup      *Supervisor
	workDir  string
	addr     string
	cmd      *exec.Cmd
	stderr   *tailBuffer
	waitErr  error
	waitDone chan struct{}

	stopped  bool
	released bool
}

func (h *NodeHandle) Addr() string    { return h.addr }
func (h *NodeHandle) WorkDir() string { return h.workDir }

// Dial opens a transport to this node using the supervisor's flavor.
func (h *NodeHandle) Dial() (wire.Transport, error) {
	return wire.Dial(wire.DialConfig{
		Flavor:  h.sup.opts.Flavor,
		Addr:    h.addr,
		ChainID: h.sup.opts.ChainID,
		Timeout: h.sup.opts.CallTimeout,
	})
}

// Stop terminates the process but keeps the working directory, so the node
// can be respawned on its persisted state. Safe to call more than once.
func (h *NodeHandle) Stop(ctx context.Context) error {
	if h.stopped {
		return nil
	}
	h.stopped = true
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.waitDone:
	case <-time.After(h.sup.opts.GracePeriod):
		h.sup.opts.Logger.Warn().Int("pid", h.cmd.Process.Pid).Msg("Grace period expired, killing node")
		_ = h.cmd.Process.Kill()
		<-h.waitDone
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-h.waitDone
	}
	return nil
}

// Release terminates the process and removes the working directory. Every
// exit path of a scenario must end in Release; calling it twice is a no-op.
func (h *NodeHandle) Release(ctx context.Context) error {
	if h.released {
		return nil
	}
	h.released = true
	_ = h.Stop(ctx)
	return os.RemoveAll(h.workDir)
}

// ExitStatus reports how the process exited. ok is false while it is still
// running. A clean SIGTERM shutdown reports code 0.
func (h *NodeHandle) ExitStatus() (code int, ok bool) {
	select {
	case <-h.waitDone:
	default:
		return 0, false
	}
	if h.waitErr == nil {
		return 0, true
	}
	if ee, isExit := h.waitErr.(*exec.ExitError); isExit {
		return ee.ExitCode(), true
	}
	return -1, true
}

// StderrTail returns the most recent captured node output.
func (h *NodeHandle) StderrTail() string { return h.stderr.String() }
