// Package report forwards background failures to Sentry. Without a DSN the
// client is a no-op, so callers never need to check whether reporting is on.
package report

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
)

// Setup initialises the global Sentry client and tags the scope with the
// runtime environment.
func Setup(dsn, env, version string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          version,
		AttachStacktrace: true,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	ConfigureScope(env, version)
	return nil
}

// ConfigureScope sets global tags and host context on the current hub.
func ConfigureScope(env, version string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("env", env)
		scope.SetTag("app_version", version)
		scope.SetTag("go_version", runtime.Version())
		scope.SetContext("host_info", map[string]interface{}{
			"hostname": hostname(),
		})
	})
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func Flush() {
	sentry.Flush(2 * time.Second)
}

// Options carries optional data attached to a reported error.
type Options struct {
	Tags         map[string]string
	ExtraContext map[string]interface{}
	Level        sentry.Level
}

// ReportError reports err at error level.
func ReportError(err error) {
	ReportErrorWithOptions(err, Options{})
}

// ReportErrorWithOptions reports err with tags, extra context and level.
func ReportErrorWithOptions(err error, opts Options) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if opts.ExtraContext != nil {
			scope.SetContext("extra", opts.ExtraContext)
		}
		for k, v := range opts.Tags {
			scope.SetTag(k, v)
		}
		level := opts.Level
		if level == "" {
			level = sentry.LevelError
		}
		scope.SetLevel(level)
		sentry.CaptureException(err)
	})
}

// Component returns a reporting hook that tags every error with the
// component name, for use with OnError callbacks.
func Component(name string) func(error) {
	return func(err error) {
		ReportErrorWithOptions(err, Options{Tags: map[string]string{"component": name}})
	}
}
