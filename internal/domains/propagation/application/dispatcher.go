package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Dispatcher runs independent consumer groups. A group that stops or lags
// never affects the others: each runs in its own goroutine with no shared
// cancellation besides the caller's ctx.
type Dispatcher struct {
	groups []*ConsumerGroup
	byName map[string]*ConsumerGroup
	logger *slog.Logger
}

// NewDispatcher wires the given groups. Names must be unique.
func NewDispatcher(logger *slog.Logger, groups ...*ConsumerGroup) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{byName: map[string]*ConsumerGroup{}, logger: logger}
	for _, g := range groups {
		if _, exists := d.byName[g.Name()]; exists {
			return nil, errors.New("duplicate consumer group " + g.Name())
		}
		d.byName[g.Name()] = g
		d.groups = append(d.groups, g)
	}
	return d, nil
}

// Groups returns the groups in registration order.
func (d *Dispatcher) Groups() []*ConsumerGroup {
	return append([]*ConsumerGroup(nil), d.groups...)
}

// Group looks up a group by name.
func (d *Dispatcher) Group(name string) (*ConsumerGroup, bool) {
	g, ok := d.byName[name]
	return g, ok
}

// Run blocks until ctx is cancelled and every group drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, g := range d.groups {
		wg.Add(1)
		go func(g *ConsumerGroup) {
			defer wg.Done()
			d.logger.InfoContext(ctx, "consumer group started", slog.String("group", g.Name()), slog.Int("partitions", g.Partitions()))
			if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.ErrorContext(ctx, "consumer group stopped", slog.String("group", g.Name()), slog.String("error", err.Error()))
				return
			}
			d.logger.InfoContext(ctx, "consumer group drained", slog.String("group", g.Name()))
		}(g)
	}
	wg.Wait()
	return nil
}
