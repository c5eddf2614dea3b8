// main.go is the privileged helper for fdshare.
// It is launched by the factory (normally through an elevation command such
// as "su -c") with the socket token as its sole positional argument, opens
// files on the factory's behalf and passes the descriptors back over the
// socket. See the internal/helper package for the two-stage bootstrap.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/chdir/fdshare/internal/helper"
	"github.com/chdir/fdshare/internal/logging"
	"github.com/chdir/fdshare/internal/version"
)

func main() {
	worker := flag.Bool("worker", false, "run the long-lived worker stage (internal, set on re-exec)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	token := flag.Arg(0)
	if token == "" {
		fmt.Fprintln(os.Stderr, "usage: fdshare-helper [-worker] <socket token>")
		os.Exit(2)
	}

	// Diagnostics go to stderr; stdout is reserved for the PID greeting the
	// factory's listener parses.
	logger := logging.Setup(*logLevel)

	if *worker {
		if err := helper.Worker(token, logging.WithComponent(logger, "helper.worker")); err != nil {
			logger.Error("worker failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := helper.Bootstrap(token, logging.WithComponent(logger, "helper.bootstrap")); err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
