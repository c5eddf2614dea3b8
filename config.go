package fdshare

import (
	"errors"
	"log/slog"
	"time"
)

// Default timeout values. The admission timeout is generous because the
// first request may be stuck behind an interactive privilege prompt; the
// round-trip timeout is short because a healthy helper answers a single
// open(2) almost immediately.
const (
	DefaultAdmissionTimeout = 20 * time.Second
	DefaultRoundTripTimeout = 2500 * time.Millisecond
)

// ErrHelperPathRequired is returned by Create when no helper executable is
// configured.
var ErrHelperPathRequired = errors.New("fdshare: helper path is required")

// Config carries everything a Factory needs. There is no ambient state: all
// knobs are explicit fields, and the zero value of every optional field
// selects a sensible default.
type Config struct {
	// HelperPath is the path of the helper executable. Required.
	HelperPath string

	// ElevationCommand is the privilege-elevation wrapper the helper is
	// launched through, invoked as:
	//
	//	elevation[0] elevation[1:]... "<helper path> <socket token>"
	//
	// Defaults to {"su", "-c"}. Ignored when Debug is set.
	ElevationCommand []string

	// Debug launches the helper directly, without the elevation wrapper.
	// Opens are then limited to what the current user can access; useful
	// for local testing only.
	Debug bool

	// AdmissionTimeout bounds how long an Open call waits to hand its
	// request to the listener. Defaults to DefaultAdmissionTimeout.
	AdmissionTimeout time.Duration

	// RoundTripTimeout bounds how long an Open call waits for the helper's
	// reply once the request has been sent. Defaults to
	// DefaultRoundTripTimeout.
	RoundTripTimeout time.Duration

	// Logger receives the factory's diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// withDefaults returns a copy of c with zero-valued optional fields filled in.
func (c Config) withDefaults() Config {
	if len(c.ElevationCommand) == 0 {
		c.ElevationCommand = []string{"su", "-c"}
	}
	if c.AdmissionTimeout <= 0 {
		c.AdmissionTimeout = DefaultAdmissionTimeout
	}
	if c.RoundTripTimeout <= 0 {
		c.RoundTripTimeout = DefaultRoundTripTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
