package sentryutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mikeydub/go-collab/service/logger"
)

const (
	errorContextName = "error context"
	flushTimeout     = 2 * time.Second
)

// Options configures InitSentry.
type Options struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	// Cookies with these names are removed from events before they are sent.
	ScrubCookies []string
}

// InitSentry initializes the global Sentry client. An empty DSN disables reporting
// and is not an error.
func InitSentry(opts Options) error {
	if opts.DSN == "" {
		logger.For(nil).Info("skipping sentry init")
		return nil
	}

	logger.For(nil).Info("initializing sentry...")

	return sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		TracesSampleRate: opts.TracesSampleRate,
		EnableTracing:    opts.TracesSampleRate > 0,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			event = ScrubEventCookies(event, opts.ScrubCookies...)
			event = UpdateErrorFingerprints(event, hint)
			return event
		},
	})
}

func ReportRemappedError(ctx context.Context, originalErr error, remappedErr interface{}) {
	hub := SentryHubFromContext(ctx)
	if hub == nil {
		logger.For(ctx).Debug("could not report error to Sentry because hub is nil")
		return
	}

	// Use a new scope so our error context and tag don't persist beyond this error
	hub.WithScope(func(scope *sentry.Scope) {
		if remappedErr != nil {
			SetErrorContext(scope, true, fmt.Sprintf("%T", remappedErr))
			scope.SetTag("remappedError", "true")
		} else {
			SetErrorContext(scope, false, "")
		}

		hub.CaptureException(originalErr)
	})
}

func ReportError(ctx context.Context, err error) {
	ReportRemappedError(ctx, err, nil)
}

// ScrubEventCookies drops the named cookies from the event's request data.
func ScrubEventCookies(event *sentry.Event, cookieNames ...string) *sentry.Event {
	if event == nil || event.Request == nil || event.Request.Cookies == "" {
		return event
	}

	var scrubbed []string
	for _, c := range strings.Split(event.Request.Cookies, "; ") {
		drop := false
		for _, name := range cookieNames {
			if strings.HasPrefix(c, name+"=") {
				drop = true
				break
			}
		}
		if !drop {
			scrubbed = append(scrubbed, c)
		}
	}
	cookies := strings.Join(scrubbed, "; ")

	event.Request.Cookies = cookies
	if event.Request.Headers != nil {
		event.Request.Headers["Cookie"] = cookies
	}
	return event
}

func UpdateErrorFingerprints(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event == nil || hint == nil || hint.OriginalException == nil {
		return event
	}

	// errors.New values all share one unexported type; group them by message instead
	// of lumping every one of them together.
	exceptionType := fmt.Sprintf("%T", hint.OriginalException)
	if exceptionType == "*errors.errorString" {
		event.Fingerprint = []string{"{{ default }}", hint.OriginalException.Error()}
	}

	return event
}

func SetErrorContext(scope *sentry.Scope, mapped bool, mappedTo string) {
	scope.SetContext(errorContextName, sentry.Context{
		"Mapped":   mapped,
		"MappedTo": mappedTo,
	})
}

func NewSentryHubContext(ctx context.Context, hub *sentry.Hub) context.Context {
	var cpy *sentry.Hub

	if hub != nil {
		cpy = hub.Clone()
	}

	return sentry.SetHubOnContext(ctx, cpy)
}

// SentryHubFromContext gets the Hub stored on ctx, falling back to the current hub
// when Sentry has been initialized.
func SentryHubFromContext(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}

	if hub := sentry.CurrentHub(); hub != nil && hub.Client() != nil {
		return hub
	}

	return nil
}

// RecoverAndRaise reports a panic to Sentry and re-panics. Use as the first deferred
// call of a command's Run.
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		if hub := SentryHubFromContext(ctx); hub != nil {
			hub.Recover(err)
			hub.Flush(flushTimeout)
		}
		panic(err)
	}
}

// Flush waits for buffered events to be delivered.
func Flush() {
	sentry.Flush(flushTimeout)
}
