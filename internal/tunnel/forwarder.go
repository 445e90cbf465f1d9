// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/relay"
)

// errNotPublished is the retryable outcome of a lookup finding no
// endpoint yet.
var errNotPublished = errors.ConstError("endpoint not published yet")

// ForwarderConfig holds the dependencies of a Forwarder.
type ForwarderConfig struct {
	Resolver EndpointResolver

	// Start is called once when no endpoint is found. It either submits
	// the job or stages it through the relay host.
	Start func(context.Context) error

	Dialer relay.Dialer

	Stdin  io.Reader
	Stdout io.Writer

	JobName string

	// PollInterval is the delay between lookups.
	PollInterval time.Duration

	// WaitTimeout bounds the time spent waiting for the endpoint.
	WaitTimeout time.Duration

	// MaxAttempts bounds the number of lookups after Start. Zero means
	// only WaitTimeout applies.
	MaxAttempts int

	Clock  clock.Clock
	Logger Logger
}

// Validate checks the configuration.
func (c ForwarderConfig) Validate() error {
	if c.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	if c.Start == nil {
		return errors.NotValidf("nil Start")
	}
	if c.Dialer == nil {
		return errors.NotValidf("nil Dialer")
	}
	if c.Stdin == nil {
		return errors.NotValidf("nil Stdin")
	}
	if c.Stdout == nil {
		return errors.NotValidf("nil Stdout")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if c.WaitTimeout <= 0 {
		return errors.NotValidf("non-positive WaitTimeout")
	}
	if c.MaxAttempts < 0 {
		return errors.NotValidf("negative MaxAttempts")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Forwarder connects a local session to the tunnel job's sshd.
type Forwarder struct {
	config ForwarderConfig
}

// NewForwarder returns a Forwarder for config.
func NewForwarder(config ForwarderConfig) (*Forwarder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Forwarder{config: config}, nil
}

// Proxy waits for the endpoint, dials it through the relay host and
// relays Stdin and Stdout until the remote side closes.
func (f *Forwarder) Proxy(ctx context.Context) error {
	endpoint, err := f.WaitForEndpoint(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	conn, err := f.config.Dialer.Dial(ctx, endpoint.Host, endpoint.Port)
	if err != nil {
		return errors.Annotatef(err, "connecting to %s", endpoint)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			f.config.Logger.Debugf("closing tunnel: %v", err)
		}
	}()

	// Cancellation closes the stream, which ends the pipe.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	f.config.Logger.Debugf("relaying to %s", endpoint)
	if err := relay.Pipe(conn, f.config.Stdin, f.config.Stdout); err != nil {
		return errors.Trace(err)
	}
	return ctx.Err()
}

// WaitForEndpoint returns the job's endpoint, starting the job and
// polling for it if it is not running.
func (f *Forwarder) WaitForEndpoint(ctx context.Context) (Endpoint, error) {
	endpoint, err := f.config.Resolver.Resolve(ctx)
	if err != nil {
		return Endpoint{}, errors.Trace(err)
	}
	if endpoint.Resolved() {
		return endpoint, nil
	}

	f.config.Logger.Infof("starting job %q", f.config.JobName)
	if err := f.config.Start(ctx); err != nil {
		return Endpoint{}, errors.Annotatef(err, "starting job %q", f.config.JobName)
	}

	attempts := f.config.MaxAttempts
	if attempts == 0 {
		attempts = retry.UnlimitedAttempts
	}
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			if endpoint, err = f.config.Resolver.Resolve(ctx); err != nil {
				return errors.Trace(err)
			}
			if !endpoint.Resolved() {
				return errNotPublished
			}
			return nil
		},
		Attempts:    attempts,
		Delay:       f.config.PollInterval,
		MaxDuration: f.config.WaitTimeout,
		Clock:       f.config.Clock,
		Stop:        ctx.Done(),
		NotifyFunc: func(err error, attempt int) {
			if errors.Is(err, errNotPublished) {
				f.config.Logger.Debugf("waiting for job %q (attempt %d)", f.config.JobName, attempt)
				return
			}
			f.config.Logger.Debugf("looking up job %q (attempt %d): %v", f.config.JobName, attempt, err)
		},
	})
	switch {
	case err == nil:
		f.config.Logger.Infof("job %q is running at %s", f.config.JobName, endpoint)
		return endpoint, nil
	case retry.IsRetryStopped(err):
		return Endpoint{}, errors.Trace(ctx.Err())
	case retry.IsAttemptsExceeded(err), retry.IsDurationExceeded(err):
		msg := fmt.Sprintf("job %q did not publish an endpoint within %v", f.config.JobName, f.config.WaitTimeout)
		if f.config.MaxAttempts > 0 {
			msg = fmt.Sprintf("%s or %d attempts", msg, f.config.MaxAttempts)
		}
		return Endpoint{}, errors.NewTimeout(retry.LastError(err), msg)
	}
	return Endpoint{}, errors.Trace(err)
}
