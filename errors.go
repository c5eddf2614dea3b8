package fdshare

import "errors"

// ErrFactoryBroken is returned by Open once a factory has been closed or has
// hit an unrecoverable fault: helper death, a protocol violation, or an
// elapsed timeout. The instance must be discarded and a new one created;
// further calls fail immediately without touching the helper.
var ErrFactoryBroken = errors.New("fdshare: factory is broken")

// OpenError reports a per-call failure: the helper could not open the
// requested path. The factory remains usable and the call may be retried
// with different arguments.
type OpenError struct {
	// Path is the path that was requested.
	Path string

	// Message is the helper's error text, typically the errno description.
	Message string
}

func (e *OpenError) Error() string {
	return "fdshare: open " + e.Path + ": " + e.Message
}
