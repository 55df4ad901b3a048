package sink

import (
	"context"
	"errors"
	"fmt"

	"inbound-forecaster/pkg/forecast"
)

// Sink persists or publishes a forecast result.
type Sink interface {
	Name() string
	Write(ctx context.Context, res *forecast.Result) error
}

// Multi writes to every sink and joins their errors. A failing sink does
// not stop the others.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Write(ctx context.Context, res *forecast.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
