// Package helper implements the privileged side of the descriptor-passing
// protocol: the PTY bootstrap dance and the sequential open-request loop.
//
// The helper executable runs in two stages because Go cannot fork:
//
//  1. Bootstrap: opens a PTY pair and re-executes itself as the worker, with
//     the slave as the worker's stdin and controlling terminal and the master
//     passed down as an extra file. It then prints "PID:<worker pid>", the
//     greeting the factory's listener parses, and exits. This exists because
//     elevation wrappers such as "su -c" do not reliably report or reap the
//     long-lived process otherwise.
//
//  2. Worker: connects to the factory's abstract socket, hands over the PTY
//     master with a READY status, waits for GO, drops its own master
//     reference and serves open requests one at a time. Once the listener's
//     retained master is closed, the kernel delivers SIGHUP to the worker's
//     session and the worker dies with it. No explicit kill bookkeeping is
//     needed on either side.
package helper

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/chdir/fdshare/internal/protocol"
)

// ControlFd is the file descriptor number at which the worker finds the PTY
// master, per the ExtraFiles convention (entry 0 becomes descriptor 3).
const ControlFd = 3

// WorkerFlag is the argument that selects the worker stage on re-exec.
const WorkerFlag = "-worker"

// Dial connects to the factory's abstract-namespace socket.
func Dial(token string) (*net.UnixConn, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: "@" + token, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", token, err)
	}
	return conn, nil
}

// Bootstrap runs the first helper stage: spawn the worker on a fresh PTY and
// announce its PID on stdout. It returns once the worker has been started;
// the caller is expected to exit immediately after.
func Bootstrap(token string, logger *slog.Logger) error {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()
	defer pts.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}

	cmd := exec.Command(exe, WorkerFlag, token)
	cmd.Stdin = pts
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{ptmx}
	// New session with the PTY slave (the worker's stdin) as controlling
	// terminal, so that hangup on the master tears the worker down.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	logger.Debug("worker started", slog.Int("pid", cmd.Process.Pid))

	// The greeting the listener is waiting for. Anything a dynamic linker or
	// elevation wrapper printed before this line is tolerated on the far end.
	fmt.Printf("PID:%d\n", cmd.Process.Pid)

	return nil
}

// Worker runs the second helper stage: adopt the inherited PTY master,
// connect to the factory and serve requests until hangup or a fatal
// protocol error.
func Worker(token string, logger *slog.Logger) error {
	ptmx := os.NewFile(ControlFd, "ptmx")
	if ptmx == nil {
		return fmt.Errorf("descriptor %d not inherited", ControlFd)
	}

	conn, err := Dial(token)
	if err != nil {
		ptmx.Close()
		return err
	}
	defer conn.Close()

	return Serve(conn, ptmx, logger)
}

// Serve performs the READY/GO handshake on conn, handing over ptmx, then
// processes open requests strictly one at a time. It takes ownership of ptmx.
//
// Serve returns a nil error only on orderly shutdown (peer closed the
// connection between requests); malformed frames and I/O faults are returned
// as errors. It is exported separately from Worker so tests can run a helper
// in-process against a factory.
func Serve(conn *net.UnixConn, ptmx *os.File, logger *slog.Logger) error {
	if err := protocol.SendStatus(conn, protocol.StatusReady, int(ptmx.Fd())); err != nil {
		ptmx.Close()
		return fmt.Errorf("sending READY: %w", err)
	}

	r := bufio.NewReader(conn)

	ack, err := r.ReadString('\n')
	if err != nil {
		ptmx.Close()
		return fmt.Errorf("waiting for GO: %w", err)
	}
	if strings.TrimSpace(ack) != protocol.StatusGo {
		ptmx.Close()
		return fmt.Errorf("unexpected handshake reply %q", strings.TrimSpace(ack))
	}

	// The listener holds the last reference to the terminal now.
	ptmx.Close()

	logger.Info("handshake complete, serving requests")

	for {
		path, flags, err := protocol.ReadRequest(r)
		if err != nil {
			if isOrderlyEOF(err) {
				logger.Info("connection closed, exiting")
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		if err := serveOpen(conn, path, flags, logger); err != nil {
			return err
		}
	}
}

// serveOpen performs one privileged open and sends the outcome. Only
// failures to write the response are returned; open(2) errors travel to the
// peer as the status text and leave the loop healthy.
func serveOpen(conn *net.UnixConn, path string, flags int, logger *slog.Logger) error {
	fd, err := unix.Open(path, flags, 0600)
	if err != nil {
		logger.Debug("open failed",
			slog.String("path", path),
			slog.Int("flags", flags),
			slog.String("error", err.Error()),
		)
		return protocol.SendStatus(conn, err.Error(), -1)
	}

	sendErr := protocol.SendStatus(conn, protocol.StatusOK, fd)
	// The kernel duplicated the descriptor into the message; drop our copy
	// either way.
	unix.Close(fd)

	if sendErr != nil {
		return fmt.Errorf("sending descriptor for %q: %w", path, sendErr)
	}

	logger.Debug("descriptor sent",
		slog.String("path", path),
		slog.Int("flags", flags),
	)
	return nil
}

// isOrderlyEOF reports whether err is a clean end-of-stream between frames,
// as opposed to a truncated frame.
func isOrderlyEOF(err error) bool {
	return err == io.EOF
}
