package service

import (
	"context"
	"courtcam/dto"
	"errors"
)

// Publisher delivers job transitions to an outside listener.
type Publisher interface {
	Publish(ctx context.Context, event dto.JobEvent) error
}

// Mirror copies finished outputs, keyed by output name, to remote storage
// under prefix.
type Mirror interface {
	Mirror(ctx context.Context, prefix string, files map[string]string) error
}

// Publishers fans an event out to every non-nil publisher.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, event dto.JobEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
