// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package logs

import (
	"fmt"
	"os"
	"time"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/getsentry/sentry-go"
	"github.com/op/go-logging"
)

var (
	log     = logging.MustGetLogger("main")
	rlogger runtimeLogger
)

type runtimeLogger struct {
	f *os.File
}

// ReloadRuntimeLogs reconfigures the logging backend. It is called once at
// startup and again on SIGUSR1 to allow log rotation.
func ReloadRuntimeLogs() {
	if rlogger.f == os.Stderr && core.RunLog == "" {
		// Logger already set up and connected to the console.
		// Don't reload to avoid breaking journald.
		return
	}

	logColor := false

	stat, _ := os.Stdout.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		logColor = true
	}

	if rlogger.f != nil {
		rlogger.f.Close()
	} else {
		rlogger.f = os.Stderr
	}

	if core.RunLog != "" {
		var err error
		rlogger.f, err = os.OpenFile(core.RunLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Cannot open log file for writing")
			rlogger.f = os.Stderr
		} else {
			logColor = false
		}
	}

	logBackend := logging.NewLogBackend(rlogger.f, "", 0)
	logBackend.Color = logColor

	logging.SetBackend(logBackend)

	if core.Debug {
		logging.SetFormatter(logging.MustStringFormatter("%{shortfile:-20s}%{time:2006/01/02 15:04:05.000 MST} %{message}"))
		logging.SetLevel(logging.DEBUG, "main")
	} else {
		logging.SetFormatter(logging.MustStringFormatter("%{time:2006/01/02 15:04:05.000 MST} %{message}"))
		logging.SetLevel(logging.INFO, "main")
	}
}

// InitSentry connects the error-reporting sink. It is a no-op when
// SENTRY_DSN is not set.
func InitSentry() {
	dsn := core.SentryDSN()
	if dsn == "" {
		return
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: "mirrorsvc@" + core.VERSION,
	})
	if err != nil {
		log.Errorf("Sentry initialization failed: %s", err.Error())
		return
	}
	log.Debug("Sentry error reporting enabled")
}

// CaptureError forwards an internal error to the sink and logs it.
// Per-mirror probe failures are mirror state, not errors, and must
// not go through here.
func CaptureError(err error) {
	if err == nil {
		return
	}
	log.Errorf("Internal error: %s", err.Error())
	sentry.CaptureException(err)
}

// FlushSentry drains pending events before shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
