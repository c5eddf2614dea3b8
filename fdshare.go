// Package fdshare opens files through a privileged helper process and hands
// the resulting descriptors back across the process boundary.
//
// An unprivileged caller creates a Factory, which spawns a small helper
// executable through a privilege-elevation command ("su -c" by default) and
// talks to it over a private Unix domain socket. Open requests travel to the
// helper as short text frames; opened descriptors come back as SCM_RIGHTS
// ancillary data and are adopted into ordinary *os.File values. Privileged
// code runs only inside the helper, which performs nothing but open(2).
//
// A factory owns one helper process, one socket and one background listener
// goroutine, and serves one request at a time. Callers that need parallel
// privileged opens create several factories. A factory either works or is
// broken: helper death, protocol corruption and timeouts all permanently
// close the instance, and ErrFactoryBroken tells callers to build a new one.
//
//	fac, err := fdshare.Create(fdshare.Config{HelperPath: "/usr/lib/fdshare/fdshare-helper"})
//	if err != nil { ... }
//	defer fac.Close()
//
//	f, err := fac.OpenFile(ctx, "/dev/block/sda1", fdshare.O_RDONLY)
package fdshare

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chdir/fdshare/internal/handoff"
)

// Factory opens files with the helper's privileges. Safe for concurrent use;
// calls are serialized internally through a single-slot handoff, so at most
// one request is ever in flight.
type Factory struct {
	cfg    Config
	token  string
	ln     *net.UnixListener
	logger *slog.Logger

	intake    *handoff.Handoff[*request]
	responses *handoff.Handoff[*response]

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}

	// mu guards the connection and terminal handle registered by the
	// listener, so Close can unblock it.
	mu   sync.Mutex
	conn *net.UnixConn
	ptmx *os.File
}

// Create binds a freshly named socket, launches the helper and starts the
// listener goroutine. It returns immediately: the handshake completes in the
// background and the first Open awaits it under the admission timeout.
//
// Callers are encouraged to cache and reuse the returned instance; every
// factory costs a process and a goroutine.
func Create(cfg Config) (*Factory, error) {
	cfg = cfg.withDefaults()
	if cfg.HelperPath == "" {
		return nil, ErrHelperPathRequired
	}

	token := uuid.NewString()

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: "@" + token, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("fdshare: binding socket: %w", err)
	}

	f := newFactory(cfg, token, ln)

	cmd := helperCommand(cfg, token)

	// One pipe carries the helper's stdout and stderr combined: the PID
	// greeting, any linker noise, and the worker's logs all arrive on it.
	pr, pw, err := os.Pipe()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fdshare: creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		f.Close()
		return nil, fmt.Errorf("fdshare: launching helper: %w", err)
	}
	pw.Close()

	f.logger.Debug("helper launched",
		slog.String("helper", cfg.HelperPath),
		slog.Bool("debug", cfg.Debug),
	)

	f.start(pr, cmd.Wait)

	return f, nil
}

// helperCommand builds the helper invocation: direct in debug mode, wrapped
// in the elevation command otherwise. The wrapper receives the helper path
// and socket token as a single shell-style argument, the form "su -c"
// expects.
func helperCommand(cfg Config, token string) *exec.Cmd {
	if cfg.Debug {
		return exec.Command(cfg.HelperPath, token)
	}

	elev := cfg.ElevationCommand
	args := make([]string, 0, len(elev))
	args = append(args, elev[1:]...)
	args = append(args, cfg.HelperPath+" "+token)
	return exec.Command(elev[0], args...)
}

// newFactory wires the in-process pieces; launching the helper and starting
// the listener happen separately so tests can substitute both.
func newFactory(cfg Config, token string, ln *net.UnixListener) *Factory {
	return &Factory{
		cfg:       cfg,
		token:     token,
		ln:        ln,
		logger:    cfg.Logger.With(slog.String("component", "fdshare")),
		intake:    handoff.New[*request](),
		responses: handoff.New[*response](),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start launches the listener goroutine over the helper's combined output
// stream and a function that reaps the helper process.
func (f *Factory) start(output io.ReadCloser, wait func() error) {
	l := &listener{
		f:      f,
		output: output,
		wait:   wait,
		logger: f.logger.With(slog.String("component", "fdshare.listener")),
	}
	go l.run()
}

// Open is OpenFile with DefaultFlags: read-write access, creating the file
// if it does not exist.
func (f *Factory) Open(ctx context.Context, path string) (*os.File, error) {
	return f.OpenFile(ctx, path, DefaultFlags)
}

// OpenFile asks the helper to open path with the given flags and returns the
// adopted descriptor. The path need not be accessible to the calling process
// itself, only to the helper.
//
// Failures come in two kinds. An *OpenError means this particular open
// failed at the helper (missing file, bad flags, permissions even for the
// helper) and the factory is still healthy. ErrFactoryBroken means the
// factory is permanently dead. A context cancellation error means the caller
// gave up; the factory stays usable and the abandoned response is cleaned up
// internally.
func (f *Factory) OpenFile(ctx context.Context, path string, flags OpenFlag) (*os.File, error) {
	if f.closed.Load() {
		opensTotal.WithLabelValues(outcomeBroken).Inc()
		return nil, ErrFactoryBroken
	}

	if err := validatePath(path); err != nil {
		opensTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, err
	}

	req := &request{path: path, flags: flags}

	ok, err := f.intake.Offer(ctx, req, f.cfg.AdmissionTimeout)
	if err != nil {
		return nil, fmt.Errorf("fdshare: open abandoned: %w", err)
	}
	if !ok {
		f.markBroken("admission timeout")
		opensTotal.WithLabelValues(outcomeBroken).Inc()
		return nil, ErrFactoryBroken
	}

	for {
		resp, ok, err := f.responses.Poll(ctx, f.cfg.RoundTripTimeout)
		if err != nil {
			// The listener discovers the abandonment when its delivery
			// attempt times out, and closes the descriptor then.
			return nil, fmt.Errorf("fdshare: open abandoned: %w", err)
		}
		if !ok {
			f.markBroken("round-trip timeout")
			opensTotal.WithLabelValues(outcomeBroken).Inc()
			return nil, ErrFactoryBroken
		}

		// A response for an earlier, abandoned request may still be in
		// flight; sweep it and keep waiting for our own.
		if resp.req != req {
			resp.discard()
			continue
		}

		switch {
		case resp.file != nil:
			opensTotal.WithLabelValues(outcomeOK).Inc()
			return resp.file, nil
		case resp.broken:
			opensTotal.WithLabelValues(outcomeBroken).Inc()
			return nil, fmt.Errorf("%w: %s", ErrFactoryBroken, resp.message)
		default:
			opensTotal.WithLabelValues(outcomeFailed).Inc()
			return nil, &OpenError{Path: path, Message: resp.message}
		}
	}
}

// Close tears the factory down: the listener is signalled to stop, the
// socket is closed, and dropping the retained terminal handle makes the
// kernel hang up the helper's session. Idempotent, never fails, callable
// concurrently with Open.
func (f *Factory) Close() error {
	f.shutdown()
	return nil
}

// Done is closed once the listener goroutine has fully exited, after the
// helper process has been drained and reaped. Mainly useful in tests and
// for orderly process shutdown.
func (f *Factory) Done() <-chan struct{} {
	return f.done
}

// shutdown performs the single Running→Closed transition. It reports whether
// this call was the one that made it.
func (f *Factory) shutdown() bool {
	if !f.closed.CompareAndSwap(false, true) {
		return false
	}

	close(f.stop)
	f.ln.Close()

	f.mu.Lock()
	conn, ptmx := f.conn, f.ptmx
	f.conn, f.ptmx = nil, nil
	f.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if ptmx != nil {
		// Last reference to the helper's controlling terminal; the kernel
		// delivers SIGHUP to the helper's session on this close.
		ptmx.Close()
	}

	return true
}

// markBroken is shutdown plus accounting, for fault-driven transitions.
func (f *Factory) markBroken(reason string) {
	if f.shutdown() {
		factoriesBrokenTotal.Inc()
		f.logger.Warn("factory broken", slog.String("reason", reason))
	}
}

// track registers the authenticated helper connection and terminal handle so
// Close can reach them. It fails when the factory was closed concurrently,
// in which case both are closed here and the listener must bail out.
func (f *Factory) track(conn *net.UnixConn, ptmx *os.File) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		conn.Close()
		ptmx.Close()
		return false
	}
	f.conn = conn
	f.ptmx = ptmx
	return true
}
