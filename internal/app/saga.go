package app

import "context"

// compensations collects undo actions for the steps of a multi-store
// workflow. When a later step fails, Run unwinds the completed steps in
// reverse order. Undo errors are logged by the caller's action itself;
// Run keeps unwinding regardless.
type compensations struct {
	steps []func(ctx context.Context)
}

func (c *compensations) add(fn func(ctx context.Context)) {
	c.steps = append(c.steps, fn)
}

func (c *compensations) run(ctx context.Context) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		c.steps[i](ctx)
	}
}
