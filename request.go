package fdshare

import (
	"fmt"
	"os"

	"github.com/chdir/fdshare/internal/protocol"
)

// validatePath rejects paths the wire format cannot carry before any socket
// I/O happens. Sending one anyway would reach the helper as a malformed
// frame, which is fatal there; a bad argument must stay a per-call failure.
func validatePath(path string) error {
	if len(path) == 0 {
		return &OpenError{Path: path, Message: "empty path"}
	}
	if len(path) > protocol.MaxPathLen {
		return &OpenError{Path: path, Message: fmt.Sprintf("path length %d exceeds %d", len(path), protocol.MaxPathLen)}
	}
	return nil
}

// request is one caller's open request, created by the caller and consumed
// by the listener. Responses are matched by pointer identity, not field
// equality: a caller may abandon a request while a stale response for an
// identical path is still in flight, and the two must never be confused.
type request struct {
	path  string
	flags OpenFlag
}

// response pairs the originating request with its outcome: exactly one of
// file or message is meaningful. broken marks responses synthesized by the
// listener for a factory-fatal fault.
type response struct {
	req     *request
	file    *os.File
	message string
	broken  bool
}

// discard releases a response that will never reach a waiter. Closing the
// carried descriptor here is what keeps abandoned round trips from leaking
// kernel-table entries.
func (r *response) discard() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
		discardedDescriptorsTotal.Inc()
	}
}
