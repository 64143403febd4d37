// Package mock provides a configurable [uplink.Client] implementation for
// tests.
package mock

import (
	"context"
	"sync"

	"github.com/vogelwacht/telling/pkg/uplink"
)

// Client is a mock uplink client. Configure PushFunc to control behaviour;
// by default Push succeeds and records the batch.
type Client struct {
	// PushFunc, when set, is invoked instead of the default behaviour.
	PushFunc func(ctx context.Context, counts []uplink.Count) error

	mu      sync.Mutex
	batches [][]uplink.Count
}

var _ uplink.Client = (*Client)(nil)

// Push records counts and delegates to PushFunc when configured.
func (c *Client) Push(ctx context.Context, counts []uplink.Count) error {
	if c.PushFunc != nil {
		if err := c.PushFunc(ctx, counts); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]uplink.Count, len(counts))
	copy(batch, counts)
	c.batches = append(c.batches, batch)
	return nil
}

// Batches returns all successfully pushed batches.
func (c *Client) Batches() [][]uplink.Count {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]uplink.Count, len(c.batches))
	copy(out, c.batches)
	return out
}
