// Package protocol defines the wire exchange between the factory's listener
// and the privileged helper over a Unix domain stream socket.
//
// Messages are short text statuses; at most one file descriptor rides along
// as SCM_RIGHTS ancillary data. Requests use explicit length-prefixed framing
// so paths may contain arbitrary bytes:
//
//	<decimal path length>\n<path bytes>\n<decimal open flags>\n
//
// A response is a single status message: "OK" with exactly one descriptor on
// success, or free error text with no descriptor. There is no resync after a
// corrupt frame; both sides treat framing errors as fatal.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Statuses exchanged during the handshake and the request loop.
const (
	StatusReady = "READY"
	StatusGo    = "GO"
	StatusOK    = "OK"
)

// maxStatus bounds a single status message read.
const maxStatus = 512

// MaxPathLen bounds the path length in a request frame. Writers must reject
// longer paths before serializing; a frame declaring more is malformed.
const MaxPathLen = 4096

var (
	ErrBadFrame      = errors.New("protocol: malformed request frame")
	ErrNoSingleFd    = errors.New("protocol: message carried more than one descriptor")
	ErrStatusTooLong = errors.New("protocol: status message too long")
)

// WriteRequest writes one open-request frame.
func WriteRequest(w io.Writer, path string, flags int) error {
	_, err := fmt.Fprintf(w, "%d\n%s\n%d\n", len(path), path, flags)
	return err
}

// ReadRequest reads one open-request frame written by WriteRequest.
// Any framing violation is returned as an error wrapping ErrBadFrame;
// callers must not attempt to continue reading afterwards.
func ReadRequest(r *bufio.Reader) (path string, flags int, err error) {
	length, err := readDecimalLine(r)
	if err != nil {
		return "", 0, err
	}
	if length <= 0 || length > MaxPathLen {
		return "", 0, fmt.Errorf("%w: path length %d", ErrBadFrame, length)
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", 0, fmt.Errorf("%w: short path read: %v", ErrBadFrame, err)
	}
	sep, err := r.ReadByte()
	if err != nil {
		return "", 0, fmt.Errorf("%w: missing path delimiter: %v", ErrBadFrame, err)
	}
	if sep != '\n' {
		return "", 0, fmt.Errorf("%w: path delimiter %q", ErrBadFrame, sep)
	}

	flags, err = readDecimalLine(r)
	if err != nil {
		return "", 0, err
	}
	if flags < 0 {
		return "", 0, fmt.Errorf("%w: negative flags %d", ErrBadFrame, flags)
	}

	return string(raw), flags, nil
}

// readDecimalLine reads one newline-terminated non-negative decimal.
func readDecimalLine(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadFrame, strings.TrimSuffix(line, "\n"))
	}
	return n, nil
}

// SendStatus writes a status message, attaching fd as SCM_RIGHTS ancillary
// data when fd is non-negative. The caller keeps ownership of fd; the kernel
// duplicates it into the message.
func SendStatus(conn *net.UnixConn, status string, fd int) error {
	var rights []byte
	if fd >= 0 {
		rights = unix.UnixRights(fd)
	}
	_, _, err := conn.WriteMsgUnix([]byte(status), rights, nil)
	return err
}

// RecvStatus reads one status message and at most one ancillary descriptor.
// The returned fd is -1 when the message carried none; otherwise the caller
// owns it and must close it. Close-on-exec is set on received descriptors.
//
// A message carrying more than one descriptor is a protocol violation: every
// received descriptor is closed and ErrNoSingleFd returned, so nothing leaks
// into the kernel table.
func RecvStatus(conn *net.UnixConn) (status string, fd int, err error) {
	buf := make([]byte, maxStatus)
	oob := make([]byte, unix.CmsgSpace(4)*2)

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return "", -1, err
	}

	fd = -1
	if oobn > 0 {
		fd, err = parseSingleRight(oob[:oobn])
		if err != nil {
			return "", -1, err
		}
	}

	// A full buffer means the sender wrote more than maxStatus bytes; the
	// tail is still in the stream and would corrupt the next read.
	if n == len(buf) {
		if fd >= 0 {
			unix.Close(fd)
		}
		return "", -1, ErrStatusTooLong
	}

	return string(buf[:n]), fd, nil
}

// parseSingleRight extracts exactly one descriptor from control data,
// closing everything it received on any violation.
func parseSingleRight(oob []byte) (int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, fmt.Errorf("protocol: parsing control message: %w", err)
	}

	var fds []int
	for i := range msgs {
		parsed, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			closeAll(fds)
			return -1, fmt.Errorf("protocol: parsing rights: %w", err)
		}
		fds = append(fds, parsed...)
	}

	if len(fds) != 1 {
		closeAll(fds)
		return -1, fmt.Errorf("%w: got %d", ErrNoSingleFd, len(fds))
	}

	unix.CloseOnExec(fds[0])
	return fds[0], nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
