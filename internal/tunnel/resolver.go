// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// ResolverConfig holds the dependencies of a Resolver.
type ResolverConfig struct {
	Scheduler    Scheduler
	JobName      string
	UnsetMarkers []string
	Logger       Logger
}

// Validate checks the configuration.
func (c ResolverConfig) Validate() error {
	if c.Scheduler == nil {
		return errors.NotValidf("nil Scheduler")
	}
	if c.JobName == "" {
		return errors.NotValidf("empty JobName")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Resolver looks up the endpoint of the tunnel job. Nothing is cached:
// every call asks the scheduler.
type Resolver struct {
	config ResolverConfig
	unset  set.Strings
}

// NewResolver returns a Resolver for config.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Resolver{
		config: config,
		unset:  set.NewStrings(config.UnsetMarkers...),
	}, nil
}

// Resolve returns the endpoint of the running tunnel job, or the
// unresolved endpoint if there is no job or it has not published a port
// yet. An error means the scheduler could not be asked.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, error) {
	listing, err := r.config.Scheduler.ListJob(ctx, r.config.JobName)
	if err != nil {
		return Endpoint{}, errors.Trace(err)
	}
	endpoint := ParseEndpoint(listing, r.unset)
	r.config.Logger.Debugf("job %q endpoint: %v", r.config.JobName, endpoint)
	return endpoint, nil
}
