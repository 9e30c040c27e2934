package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Khan/genqlient/graphql"
	"github.com/mikeydub/go-collab/service/logger"
	sentryutil "github.com/mikeydub/go-collab/service/sentry"
	"github.com/mikeydub/go-collab/service/tracing"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is returned when an auth failure could not be recovered by
// refreshing the session. The session has been terminated by the time it is returned.
var ErrSessionExpired = errors.New("Session expired. Please log in again.")

// SessionExpiredError carries the reason a refresh failed. It matches ErrSessionExpired
// with errors.Is and prints the same user-facing message.
type SessionExpiredError struct {
	Operation string
	Cause     error // nil when the refresh reported failure without an error
}

func (e SessionExpiredError) Error() string { return ErrSessionExpired.Error() }

func (e SessionExpiredError) Unwrap() error { return e.Cause }

func (e SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// RefreshFunc attempts to renew the session's credentials and reports whether it
// succeeded. It is owned by the auth layer.
type RefreshFunc func(ctx context.Context) (bool, error)

// Session is the part of the auth layer's session state the pipeline touches.
type Session interface {
	Active() bool
	Terminate(ctx context.Context)
}

// Executor runs operations. *Pipeline is the production implementation.
type Executor interface {
	Execute(ctx context.Context, op Operation, opts ...Option) (*Result, error)
}

type options struct {
	skipRetry bool
}

type Option func(*options)

// SkipRetry returns auth failures to the caller instead of refreshing and replaying.
// The auth layer uses it for its own refresh mutation.
func SkipRetry() Option {
	return func(o *options) { o.skipRetry = true }
}

// Pipeline executes operations against the transport and recovers from an expired
// session at most once per call: refresh, then replay the identical operation.
//
// Concurrent auth failures share a single refresh call.
type Pipeline struct {
	transport Transport
	session   Session
	refresh   RefreshFunc
	refreshes singleflight.Group
}

var _ Executor = (*Pipeline)(nil)
var _ graphql.Client = (*Pipeline)(nil)

// NewPipeline creates a pipeline. session and refresh may be nil, in which case auth
// failures always end in ErrSessionExpired.
func NewPipeline(transport Transport, session Session, refresh RefreshFunc) *Pipeline {
	return &Pipeline{transport: transport, session: session, refresh: refresh}
}

// Execute sends op and returns its result. Transport failures are returned as
// *TransportError and are not retried. If the first GraphQL error is an auth error (and
// SkipRetry was not given) the session is refreshed and op is replayed exactly once; the
// replay's result is returned whatever it contains. A failed refresh terminates the
// session and returns a SessionExpiredError.
func (p *Pipeline) Execute(ctx context.Context, op Operation, opts ...Option) (*Result, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	span, ctx := tracing.StartSpan(ctx, "gql."+op.kind, op.displayName())
	result, err := p.execute(ctx, op, o)
	if result != nil {
		tracing.AddEventDataToSpan(span, map[string]interface{}{"graphql errors": len(result.Errors)})
	}
	tracing.FinishSpanWithError(span, err)

	return result, err
}

func (p *Pipeline) execute(ctx context.Context, op Operation, o options) (*Result, error) {
	result, err := p.transport.Do(ctx, op)
	if err != nil {
		return nil, err
	}

	authErr := result.authError()
	if authErr == nil || o.skipRetry {
		return result, nil
	}

	if err := p.recoverSession(ctx, op, authErr); err != nil {
		return nil, err
	}

	logger.For(ctx).WithField("operation", op.displayName()).Debug("session refreshed, replaying operation")

	return p.transport.Do(ctx, op)
}

// recoverSession refreshes the session after an auth failure. On failure the session is
// terminated, unless the caller gave up (ctx done) or the refresh itself was cut short
// before the server answered.
func (p *Pipeline) recoverSession(ctx context.Context, op Operation, authErr *gqlerror.Error) error {
	log := logger.For(ctx).WithFields(logrus.Fields{
		"operation":     op.displayName(),
		"authError":     authErr.Message,
		"authErrorCode": ErrorCode(authErr),
		"sessionActive": p.session != nil && p.session.Active(),
	})
	log.Info("auth failure, refreshing session")

	ok, err := p.refreshShared(ctx)
	if ok && err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	// A refresh that timed out or was cancelled never got an answer from the server.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Warn("session refresh did not complete")
		return err
	}

	if err != nil {
		log.WithError(err).Warn("session refresh failed")
		sentryutil.ReportError(ctx, err)
	} else {
		log.Warn("session refresh rejected")
	}

	if p.session != nil {
		p.session.Terminate(ctx)
	}

	return SessionExpiredError{Operation: op.displayName(), Cause: err}
}

// refreshShared joins the in-flight refresh or starts one. The refresh runs detached
// from ctx so a caller giving up never fails it for the callers that joined; each caller
// only stops waiting.
func (p *Pipeline) refreshShared(ctx context.Context) (bool, error) {
	if p.refresh == nil {
		return false, nil
	}

	refreshCtx := context.WithoutCancel(ctx)
	ch := p.refreshes.DoChan("refresh", func() (any, error) {
		return safeRefresh(refreshCtx, p.refresh)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logger.For(ctx).Debug("joined an in-flight session refresh")
		}
		ok, _ := res.Val.(bool)
		return ok, res.Err
	}
}

func safeRefresh(ctx context.Context, refresh RefreshFunc) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("session refresh panicked: %v", r)
		}
	}()
	return refresh(ctx)
}

// MakeRequest lets genqlient-style typed operations run through the pipeline. GraphQL
// errors are stored in resp.Errors and also returned, following genqlient's convention.
func (p *Pipeline) MakeRequest(ctx context.Context, req *graphql.Request, resp *graphql.Response) error {
	return makeRequest(ctx, p, req, resp)
}

// Client returns a graphql.Client that always executes with opts.
func (p *Pipeline) Client(opts ...Option) graphql.Client {
	return boundClient{executor: p, opts: opts}
}

type boundClient struct {
	executor Executor
	opts     []Option
}

func (c boundClient) MakeRequest(ctx context.Context, req *graphql.Request, resp *graphql.Response) error {
	return makeRequest(ctx, c.executor, req, resp, c.opts...)
}

// NewClient adapts any Executor to graphql.Client.
func NewClient(executor Executor, opts ...Option) graphql.Client {
	return boundClient{executor: executor, opts: opts}
}

func makeRequest(ctx context.Context, executor Executor, req *graphql.Request, resp *graphql.Response, opts ...Option) error {
	variables, err := variablesFrom(req.Variables)
	if err != nil {
		return err
	}

	result, err := executor.Execute(ctx, NewNamedOperation(req.Query, variables, req.OpName), opts...)
	if err != nil {
		return err
	}

	if resp == nil {
		return nil
	}

	resp.Extensions = result.Extensions
	resp.Errors = result.Errors

	if resp.Data != nil && result.HasData() {
		if err := json.Unmarshal(result.Data, resp.Data); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", req.OpName, err)
		}
	}

	if len(result.Errors) > 0 {
		return result.Errors
	}
	return nil
}

// variablesFrom converts genqlient's variables struct into a plain map.
func variablesFrom(v any) (map[string]any, error) {
	switch vars := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return vars, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}

	var vars map[string]any
	if err := json.Unmarshal(b, &vars); err != nil {
		return nil, fmt.Errorf("variables must encode to an object: %w", err)
	}
	return vars, nil
}
