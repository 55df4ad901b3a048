package regressor

import (
	"fmt"

	"inbound-forecaster/pkg/logger"
)

// Chain tries backends in order and returns the first model that fits.
// Ridge is always the last resort.
type Chain struct {
	Backends []Backend
	Params   map[Backend]Params
	Seed     int64
	Logger   *logger.Logger

	// OnFallback is called when a backend fails and the next one is tried.
	OnFallback func(failed Backend, err error)
}

// NewChain builds the fallback order for a requested backend. Auto expands
// to Priority.
func NewChain(primary Backend, seed int64, log *logger.Logger) *Chain {
	var order []Backend
	if primary == Auto || primary == "" {
		order = append(order, Priority...)
	} else {
		order = append(order, primary)
	}
	if order[len(order)-1] != Ridge {
		order = append(order, Ridge)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Chain{
		Backends: order,
		Params:   make(map[Backend]Params),
		Seed:     seed,
		Logger:   log,
	}
}

// Backend reports the preferred backend.
func (c *Chain) Backend() Backend {
	if len(c.Backends) == 0 {
		return Ridge
	}
	return c.Backends[0]
}

// ParamsFor returns the override for b or its defaults.
func (c *Chain) ParamsFor(b Backend) Params {
	if p, ok := c.Params[b]; ok {
		return p
	}
	return DefaultParams(b, c.Seed)
}

// Fit returns the first backend's model that fits without error.
func (c *Chain) Fit(X [][]float64, y []float64) (Model, error) {
	var lastErr error
	for i, b := range c.Backends {
		r, err := New(b, c.ParamsFor(b))
		if err != nil {
			lastErr = err
			continue
		}
		m, err := r.Fit(X, y)
		if err == nil {
			if i > 0 {
				c.Logger.Infow("Fell back to backend", "backend", b, "preferred", c.Backends[0])
			}
			return m, nil
		}
		lastErr = err
		c.Logger.Warnw("Backend failed, trying next", "backend", b, "rows", len(y), "error", err)
		if c.OnFallback != nil {
			c.OnFallback(b, err)
		}
	}
	return nil, fmt.Errorf("all backends failed: %w", lastErr)
}
