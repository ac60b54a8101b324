package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry"
)

// Default polling budget. Server-side syncs usually land within a couple of
// delays; the timeout covers a wedged sync without waiting forever.
const (
	DefaultTimeout    = 20 * time.Minute
	DefaultRetryDelay = 30 * time.Second
)

// TimeoutError reports that the expected digests did not appear within the
// polling budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%.0f seconds exceeded", e.Timeout.Seconds())
}

// Poller repeatedly looks up the digests published for an image until they
// satisfy the caller's expectations or the wall-clock budget runs out.
type Poller struct {
	lookup     registry.DigestLookup
	timeout    time.Duration
	retryDelay time.Duration
	log        logrus.FieldLogger
}

// NewPoller returns a Poller querying through lookup. Non-positive
// durations fall back to the defaults, a nil log to the logrus standard
// logger.
func NewPoller(lookup registry.DigestLookup, timeout, retryDelay time.Duration, log logrus.FieldLogger) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{lookup: lookup, timeout: timeout, retryDelay: retryDelay, log: log}
}

// Wait polls the registry for ref's digests until expect is satisfied.
//
// Not-found lookups mean the registry has not spotted the new content yet
// and are retried. Forbidden responses have been seen sporadically during
// syncs and are retried too, with their full diagnostic logged. Any other
// failure ends the wait immediately. The budget is checked after each
// attempt, before sleeping, so a failed lookup never waits out a retry
// delay just to time out.
func (p *Poller) Wait(ctx context.Context, ref imageref.Ref, expect Expectations) (registry.DigestSet, error) {
	start := time.Now()

	return backoff.Retry(ctx, func() (registry.DigestSet, error) {
		ds, err := p.lookup.Digests(ctx, ref, false)
		if err == nil {
			missing := expect.Missing(ds)
			if missing == "" {
				return ds, nil
			}
			p.log.Warnf("Expected %s", missing)
			return registry.DigestSet{}, p.transient(start, fmt.Errorf("registry serves no %s yet", missing))
		}

		// ForbiddenError: not yet understood, seen to clear up on retry.
		var forbidden *registry.ForbiddenError
		if errors.As(err, &forbidden) {
			p.log.Error(forbidden.Diagnostic)
			return registry.DigestSet{}, p.transient(start, err)
		}

		// NotFoundError: the content has not synced yet.
		var notFound *registry.NotFoundError
		if errors.As(err, &notFound) {
			return registry.DigestSet{}, p.transient(start, err)
		}

		return registry.DigestSet{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.retryDelay)),
		backoff.WithMaxElapsedTime(0), // the budget is enforced in transient
	)
}

// transient classifies a retryable miss, turning it into a permanent
// timeout once the budget is spent.
func (p *Poller) transient(start time.Time, err error) error {
	if time.Since(start) > p.timeout {
		return backoff.Permanent(&TimeoutError{Timeout: p.timeout})
	}
	p.log.Infof("not found; will try again in %s", p.retryDelay)
	return err
}
