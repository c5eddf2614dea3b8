package fdshare

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/chdir/fdshare/internal/protocol"
)

// listener is the factory's background goroutine: it authenticates the
// helper, performs the handshake and drives the protocol loop until stop or
// fault. Exactly one per factory, for the factory's whole lifetime.
type listener struct {
	f      *Factory
	output io.ReadCloser
	wait   func() error
	logger *slog.Logger
}

// The bootstrap stage of the helper announces the worker's PID on its
// combined output. Dynamic linkers and elevation wrappers are known to print
// noise before it, so match anywhere; the trailing newline guarantees the
// digits are complete.
var pidPattern = regexp.MustCompile(`PID:(\d+)\n`)

// greetingLimit caps how much pre-greeting noise is tolerated.
const greetingLimit = 64 * 1024

func (l *listener) run() {
	defer close(l.f.done)
	defer l.teardown()

	pid, err := l.readHelperPID()
	if err != nil {
		l.logger.Error("reading helper greeting failed", slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("helper announced", slog.Int("pid", pid))

	conn, ptmx, err := l.acceptHelper(pid)
	if err != nil {
		l.logger.Error("helper handshake failed", slog.String("error", err.Error()))
		return
	}

	if !l.f.track(conn, ptmx) {
		// Factory closed while we were shaking hands.
		return
	}

	if err := l.hardenHelper(conn, pid); err != nil {
		l.logger.Error("helper exchange failed during hardening", slog.String("error", err.Error()))
		return
	}

	l.serve(conn)
}

// teardown runs no matter how the loop ended: mark the factory closed,
// drain whatever the helper still has to say, then reap the process.
func (l *listener) teardown() {
	l.f.markBroken("listener exited")

	io.Copy(io.Discard, l.output)
	l.output.Close()

	if l.wait != nil {
		if err := l.wait(); err != nil {
			l.logger.Debug("helper exited", slog.String("status", err.Error()))
		}
	}

	l.logger.Debug("listener stopped")
}

// readHelperPID scans the helper's output for the PID:<digits> greeting.
func (l *listener) readHelperPID() (int, error) {
	var buf []byte
	chunk := make([]byte, 512)

	for {
		n, err := l.output.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if m := pidPattern.FindSubmatch(buf); m != nil {
			return strconv.Atoi(string(m[1]))
		}

		if err != nil {
			return 0, fmt.Errorf("no PID in helper greeting (%d bytes read): %w", len(buf), err)
		}
		if len(buf) > greetingLimit {
			return 0, errors.New("helper greeting too long without a PID")
		}
	}
}

// acceptHelper accepts connections until one arrives whose peer process id
// matches the announced helper PID, then completes the READY/GO handshake on
// it. Connections from any other process are dropped without a reply; a
// local process that can see the socket name must not be able to impersonate
// the helper.
func (l *listener) acceptHelper(pid int) (*net.UnixConn, *os.File, error) {
	for {
		conn, err := l.f.ln.AcceptUnix()
		if err != nil {
			return nil, nil, fmt.Errorf("accepting helper connection: %w", err)
		}

		peer, err := peerPid(conn)
		if err != nil || peer != pid {
			l.logger.Warn("dropping connection from unexpected peer",
				slog.Int("peer_pid", peer),
				slog.Int("helper_pid", pid),
			)
			conn.Close()
			continue
		}

		l.logPeer(peer)

		status, fd, err := protocol.RecvStatus(conn)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("reading handshake: %w", err)
		}
		if status != protocol.StatusReady || fd < 0 {
			if fd >= 0 {
				unix.Close(fd)
			}
			conn.Close()
			return nil, nil, fmt.Errorf("bad handshake: status %q, descriptor present %v", status, fd >= 0)
		}

		// The helper's controlling-terminal master. We hold the last live
		// reference once the helper drops its own on GO; closing ours is
		// how the factory kills the helper.
		ptmx := adopt(fd, "helper-tty")

		if _, err := conn.Write([]byte(protocol.StatusGo + "\n")); err != nil {
			ptmx.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("sending GO: %w", err)
		}

		return conn, ptmx, nil
	}
}

// peerPid returns the process id of the peer on a connected Unix socket.
func peerPid(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return -1, err
	}
	if credErr != nil {
		return -1, credErr
	}
	return int(cred.Pid), nil
}

// logPeer records what the authenticated peer actually is. Purely
// diagnostic: under an elevation wrapper the executable may be the wrapper's
// rather than the helper's.
func (l *listener) logPeer(pid int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	exe, err := p.Exe()
	if err != nil {
		return
	}
	l.logger.Debug("helper authenticated",
		slog.Int("pid", pid),
		slog.String("exe", exe),
	)
}

// hardenHelper lowers the helper's OOM score through the open protocol
// itself, exercising the first real round trip in the process. Failure to
// open or write is logged and ignored; only a socket fault is returned,
// since nothing useful can follow one.
func (l *listener) hardenHelper(conn *net.UnixConn, pid int) error {
	oomFile := fmt.Sprintf("/proc/%d/oom_score_adj", pid)

	resp, err := l.roundTrip(conn, &request{path: oomFile, flags: O_RDWR})
	if err != nil {
		return err
	}
	if resp.file == nil {
		l.logger.Debug("oom hardening skipped", slog.String("reason", resp.message))
		return nil
	}
	defer resp.file.Close()

	if _, err := resp.file.WriteString("-1000"); err != nil {
		l.logger.Debug("oom score write failed", slog.String("error", err.Error()))
		return nil
	}

	l.logger.Debug("helper oom score adjusted", slog.Int("pid", pid))
	return nil
}

// serve is the main loop: one request at a time, in dequeue order.
func (l *listener) serve(conn *net.UnixConn) {
	for {
		req, ok := l.f.intake.Take(l.f.stop)
		if !ok {
			l.logger.Debug("stop requested")
			return
		}

		resp, err := l.roundTrip(conn, req)
		if err != nil {
			// Tell the waiter what broke before tearing down; there is no
			// resyncing the stream after a fault.
			l.offer(&response{req: req, message: err.Error(), broken: true})
			l.logger.Error("helper exchange failed", slog.String("error", err.Error()))
			return
		}

		if !l.offer(resp) {
			resp.discard()
			l.logger.Warn("no caller waiting, descriptor discarded",
				slog.String("path", req.path),
			)
		}
	}
}

func (l *listener) offer(resp *response) bool {
	return l.f.responses.OfferTimeout(resp, l.f.cfg.RoundTripTimeout)
}

// roundTrip writes one request frame and reads back one status message with
// at most one descriptor. A returned error is a factory-fatal fault; helper
// open failures come back inside the response.
func (l *listener) roundTrip(conn *net.UnixConn, req *request) (*response, error) {
	if err := protocol.WriteRequest(conn, req.path, int(req.flags)); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	status, fd, err := protocol.RecvStatus(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case status == protocol.StatusOK && fd >= 0:
		return &response{req: req, file: adopt(fd, req.path)}, nil

	case status == protocol.StatusOK:
		// Unlikely, but the status alone proves nothing arrived.
		return &response{req: req, message: "helper sent no descriptor"}, nil

	case status == "":
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil, errors.New("empty status from helper")

	default:
		if fd >= 0 {
			unix.Close(fd)
		}
		return &response{req: req, message: status}, nil
	}
}
