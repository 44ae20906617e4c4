package resilientrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/opengovern/resilient-rest/tracker"
)

// ErrRetriesExhausted is wrapped into the terminal error of a call that used
// its whole retry budget.
var ErrRetriesExhausted = errors.New("retries exhausted")

const defaultReauthDelay = 10 * time.Millisecond

// RequestExecutor runs the attempt loop of a logical call: authenticate,
// send, record, classify, and either finish, re-authenticate once, or wait
// and retry until the retry limit is reached.
type RequestExecutor struct {
	provider   string
	httpClient *http.Client
	auth       Authenticator
	classifier ResponseClassifier
	backoff    BackoffPolicy
	reauth     Reauthenticator

	retry             RetryConfig
	useProviderLimits bool
	limits            *RateLimitState
	limiter           *rate.Limiter
	tracker           *tracker.Tracker
	reauthDelay       time.Duration
	logger            hclog.Logger
}

// ExecuteWithRetry sends spec until it reaches a terminal outcome. Retryable
// failures never escape; the caller sees the final response and, for a
// failed call, an *Error describing it.
func (re *RequestExecutor) ExecuteWithRetry(ctx context.Context, spec *RequestSpec, call *CallRequest) (*Response, error) {
	if err := re.authenticate(ctx, spec, call); err != nil {
		return nil, err
	}

	var (
		state    *RetryState
		reauthed bool
		attempts int
	)
	for {
		if err := re.pace(ctx, spec); err != nil {
			return nil, re.canceled(spec, attempts, err)
		}

		attempts++
		re.logger.Debug("sending request", "op", spec.Operation, "attempt", attempts, "method", spec.Method, "url", spec.URL)
		resp, err := re.send(ctx, spec.Clone(), attempts)
		if err != nil && ctx.Err() != nil {
			return nil, re.canceled(spec, attempts, ctx.Err())
		}

		outcome := re.classifier.Classify(spec, resp, err, re.limits)
		re.logger.Trace("classified attempt", "op", spec.Operation, "attempt", attempts, "outcome", outcome.String())

		switch outcome {
		case OutcomeSuccess:
			if attempts > 1 {
				re.logger.Debug("request succeeded", "op", spec.Operation, "attempts", attempts)
			}
			re.complete(call, resp)
			return resp, nil

		case OutcomeReauth:
			if reauthed || re.reauth == nil {
				re.complete(call, resp)
				return resp, re.failure(spec, resp, err, attempts, nil)
			}
			reauthed = true
			re.logger.Info("credentials rejected, re-authenticating", "op", spec.Operation)
			if rerr := re.reauth.Reauthenticate(ctx); rerr != nil {
				re.complete(call, resp)
				return resp, &Error{Kind: KindAuthExpired, Op: spec.Operation, StatusCode: statusOf(resp), Attempts: attempts,
					Err: fmt.Errorf("re-authenticate: %w", rerr)}
			}
			if aerr := re.authenticate(ctx, spec, call); aerr != nil {
				re.complete(call, resp)
				return resp, withAttempts(aerr, attempts)
			}
			if serr := sleep(ctx, re.reauthDelay); serr != nil {
				return resp, re.canceled(spec, attempts, serr)
			}

		case OutcomeRetry:
			counted := attempts
			if reauthed {
				counted--
			}
			if state == nil {
				state = &RetryState{Limit: re.retry.Limit}
			}
			if !re.retry.Enabled || counted >= state.Limit {
				re.logger.Warn("giving up after retries", "op", spec.Operation, "attempts", attempts, "limit", state.Limit)
				re.complete(call, resp)
				return resp, re.failure(spec, resp, err, attempts, ErrRetriesExhausted)
			}
			state.Attempt = counted - 1
			state.Wait = re.backoff.RetryWait(spec, resp, *state)
			if re.retry.MaxWait > 0 && state.Wait > re.retry.MaxWait {
				state.Wait = re.retry.MaxWait
			}
			re.logger.Info("retrying request", "op", spec.Operation, "wait", state.Wait,
				"attempt", counted, "limit", state.Limit, "status", statusOf(resp), "error", err)
			if serr := sleep(ctx, state.Wait); serr != nil {
				return resp, re.canceled(spec, attempts, serr)
			}

		default:
			re.complete(call, resp)
			return resp, re.failure(spec, resp, err, attempts, nil)
		}
	}
}

func (re *RequestExecutor) authenticate(ctx context.Context, spec *RequestSpec, call *CallRequest) error {
	if re.auth == nil {
		return nil
	}
	if err := re.auth.Authenticate(ctx, spec, call); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return &Error{Kind: KindConfiguration, Op: spec.Operation, Err: err}
	}
	return nil
}

// withAttempts records the attempt count on an *Error returned by
// authenticate.
func withAttempts(err error, attempts int) error {
	var e *Error
	if errors.As(err, &e) && e.Attempts == 0 {
		e.Attempts = attempts
	}
	return err
}

// pace waits for an exhausted vendor window and for the client side token
// bucket before an attempt.
func (re *RequestExecutor) pace(ctx context.Context, spec *RequestSpec) error {
	if re.useProviderLimits {
		if delay := re.limits.DelayBeforeNextRequest(time.Now()); delay > 0 {
			if re.retry.MaxWait > 0 && delay > re.retry.MaxWait {
				delay = re.retry.MaxWait
			}
			re.logger.Debug("rate limit exhausted, waiting for reset", "provider", re.provider, "op", spec.Operation, "wait", delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	if re.limiter != nil {
		return re.limiter.Wait(ctx)
	}
	return nil
}

// send performs one attempt and records it in the tracker.
func (re *RequestExecutor) send(ctx context.Context, spec *RequestSpec, attempt int) (*Response, error) {
	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = spec.Header.Clone()

	rec := re.tracker.Start(tracker.RequestSnapshot{
		Operation: spec.Operation,
		Attempt:   attempt,
		Method:    spec.Method,
		URL:       spec.URL,
		Headers:   spec.Header,
		Body:      string(spec.Body),
	})

	hresp, err := re.httpClient.Do(req)
	if err != nil {
		rec.Stop(nil, err)
		re.logger.Debug("request failed", "op", spec.Operation, "attempt", attempt, "error", err)
		return nil, err
	}
	defer hresp.Body.Close()

	data, err := readBody(hresp, spec.Binary)
	if err != nil {
		rec.Stop(nil, err)
		return nil, err
	}

	resp := &Response{
		StatusCode: hresp.StatusCode,
		Headers:    hresp.Header.Clone(),
		Body:       data,
		Binary:     spec.Binary,
	}
	snap := &tracker.ResponseSnapshot{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		BodySize:   len(data),
		Binary:     spec.Binary,
	}
	if !spec.Binary {
		snap.Body = string(data)
	}
	entry := rec.Stop(snap, nil)
	re.logger.Debug("response received", "op", spec.Operation, "attempt", attempt, "status", resp.StatusCode, "duration", entry.Duration)
	return resp, nil
}

// readBody returns the raw bytes of binary responses and UTF-8 text for the
// others, transcoding when the Content-Type names another charset.
func readBody(resp *http.Response, binary bool) ([]byte, error) {
	if binary {
		return io.ReadAll(resp.Body)
	}
	var r io.Reader = resp.Body
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		if label := params["charset"]; label != "" {
			if enc, name := charset.Lookup(label); enc != nil && name != "utf-8" {
				r = enc.NewDecoder().Reader(resp.Body)
			}
		}
	}
	return io.ReadAll(r)
}

func (re *RequestExecutor) complete(call *CallRequest, resp *Response) {
	if call != nil && call.OnResult != nil && resp != nil {
		call.OnResult(resp)
	}
}

func (re *RequestExecutor) failure(spec *RequestSpec, resp *Response, err error, attempts int, cause error) error {
	e := &Error{Op: spec.Operation, Attempts: attempts, StatusCode: statusOf(resp)}
	switch {
	case err != nil:
		e.Kind = KindNetwork
	case resp.StatusCode == http.StatusTooManyRequests || re.limits.Exhausted(time.Now()):
		e.Kind = KindRateLimit
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindAuthExpired
	default:
		e.Kind = KindUpstream
	}
	switch {
	case cause != nil && err != nil:
		e.Err = fmt.Errorf("%w: %w", cause, err)
	case cause != nil:
		e.Err = cause
	default:
		e.Err = err
	}
	return e
}

func (re *RequestExecutor) canceled(spec *RequestSpec, attempts int, err error) error {
	return fmt.Errorf("%s: canceled after %d attempts: %w", spec.Operation, attempts, err)
}

func statusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
