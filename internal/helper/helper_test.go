// helper_test.go drives the helper's handshake and request loop in-process
// over a socketpair, with the test playing the listener's role.
package helper

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/chdir/fdshare/internal/protocol"
)

func connPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	toConn := func(fd int, name string) *net.UnixConn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close()
		c, err := net.FileConn(f)
		if err != nil {
			t.Fatalf("FileConn: %v", err)
		}
		return c.(*net.UnixConn)
	}

	a := toConn(fds[0], "listener-end")
	b := toConn(fds[1], "helper-end")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServe runs Serve on the helper end and completes the handshake on
// the listener end, returning the received PTY master descriptor and a
// channel with Serve's result.
func startServe(t *testing.T) (listener *net.UnixConn, ptmxFd int, done chan error) {
	t.Helper()

	listener, helperEnd := connPair(t)

	ptmx, pts, err := pty.Open()
	if err != nil {
		t.Fatalf("pty.Open: %v", err)
	}
	t.Cleanup(func() { pts.Close() })

	done = make(chan error, 1)
	go func() {
		done <- Serve(helperEnd, ptmx, quietLogger())
	}()

	status, fd, err := protocol.RecvStatus(listener)
	if err != nil {
		t.Fatalf("handshake recv: %v", err)
	}
	if status != protocol.StatusReady {
		t.Fatalf("handshake status = %q, want READY", status)
	}
	if fd < 0 {
		t.Fatal("handshake carried no terminal descriptor")
	}
	t.Cleanup(func() { unix.Close(fd) })

	if _, err := listener.Write([]byte(protocol.StatusGo + "\n")); err != nil {
		t.Fatalf("sending GO: %v", err)
	}

	return listener, fd, done
}

func TestServe_OpenSuccess(t *testing.T) {
	listener, _, done := startServe(t)

	content := []byte("opened by the helper")
	path := filepath.Join(t.TempDir(), "target")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	if err := protocol.WriteRequest(listener, path, unix.O_RDONLY); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status, fd, err := protocol.RecvStatus(listener)
	if err != nil {
		t.Fatalf("recv response: %v", err)
	}
	if status != protocol.StatusOK {
		t.Fatalf("status = %q, want OK", status)
	}
	if fd < 0 {
		t.Fatal("no descriptor in OK response")
	}
	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("received descriptor reads %q, want %q", got, content)
	}

	listener.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v after orderly close", err)
	}
}

func TestServe_OpenFailure(t *testing.T) {
	listener, _, done := startServe(t)

	if err := protocol.WriteRequest(listener, "/definitely/not/a/real/path", unix.O_RDONLY); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status, fd, err := protocol.RecvStatus(listener)
	if err != nil {
		t.Fatalf("recv response: %v", err)
	}
	if fd >= 0 {
		unix.Close(fd)
		t.Fatal("error response carried a descriptor")
	}
	if status == protocol.StatusOK || status == "" {
		t.Errorf("unexpected error status %q", status)
	}

	// Loop must survive a per-request failure: the next request still works.
	ok := filepath.Join(t.TempDir(), "second")
	if err := os.WriteFile(ok, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteRequest(listener, ok, unix.O_RDONLY); err != nil {
		t.Fatal(err)
	}
	status, fd, err = protocol.RecvStatus(listener)
	if err != nil {
		t.Fatal(err)
	}
	if status != protocol.StatusOK || fd < 0 {
		t.Fatalf("second open failed: status=%q fd=%d", status, fd)
	}
	unix.Close(fd)

	listener.Close()
	<-done
}

func TestServe_CreatesFiles(t *testing.T) {
	listener, _, done := startServe(t)
	defer func() { listener.Close(); <-done }()

	path := filepath.Join(t.TempDir(), "born-here")
	if err := protocol.WriteRequest(listener, path, unix.O_RDWR|unix.O_CREAT); err != nil {
		t.Fatal(err)
	}
	status, fd, err := protocol.RecvStatus(listener)
	if err != nil {
		t.Fatal(err)
	}
	if status != protocol.StatusOK || fd < 0 {
		t.Fatalf("create failed: status=%q fd=%d", status, fd)
	}
	unix.Close(fd)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("file was not created: %v", err)
	}
}

func TestServe_MalformedFrameIsFatal(t *testing.T) {
	listener, _, done := startServe(t)

	if _, err := listener.Write([]byte("not a number\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Serve returned nil for a malformed frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit on a malformed frame")
	}
}

func TestServe_SequentialProcessing(t *testing.T) {
	listener, _, done := startServe(t)
	defer func() { listener.Close(); <-done }()

	dir := t.TempDir()
	paths := make([]string, 5)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(paths[i], []byte(paths[i]), 0600); err != nil {
			t.Fatal(err)
		}
	}

	// Write all requests up front; responses must come back in order, one
	// descriptor each.
	for _, p := range paths {
		if err := protocol.WriteRequest(listener, p, unix.O_RDONLY); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range paths {
		status, fd, err := protocol.RecvStatus(listener)
		if err != nil {
			t.Fatal(err)
		}
		if status != protocol.StatusOK || fd < 0 {
			t.Fatalf("open of %q failed: status=%q", p, status)
		}
		f := os.NewFile(uintptr(fd), p)
		got, _ := io.ReadAll(f)
		f.Close()
		if string(got) != p {
			t.Errorf("response out of order: got contents %q for %q", got, p)
		}
	}
}
