// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// SharedBudget is a write budget, in items per second, that can be shared
// between several BatchWriters to give them a combined ceiling.
//
// Each BatchWriter still paces itself against its own capacity ratio; the
// budget adds a second limit across all tables wrapped by Limit.
type SharedBudget struct {
	bucket *ratelimit.Bucket
}

// NewSharedBudget creates a budget allowing itemsPerSecond items to be
// written each second across all users of the budget.
func NewSharedBudget(itemsPerSecond int64) *SharedBudget {
	return &SharedBudget{
		bucket: ratelimit.NewBucketWithQuantum(time.Second, itemsPerSecond, itemsPerSecond),
	}
}

// Available returns the number of items that could be written immediately.
func (b *SharedBudget) Available() int64 {
	return b.bucket.Available()
}

// Limit returns a Table that draws from the budget before each batch write
// is passed on to table.
func (b *SharedBudget) Limit(table Table) Table {
	return &budgetTable{Table: table, budget: b}
}

// wait takes n items from the budget, blocking until they are available.
// Returns ctx.Err() if the context is cancelled while waiting.
func (b *SharedBudget) wait(ctx context.Context, n int64) error {
	d := b.bucket.Take(n)
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type budgetTable struct {
	Table
	budget *SharedBudget
}

func (t *budgetTable) BatchWrite(ctx context.Context, items []Item) error {
	if err := t.budget.wait(ctx, int64(len(items))); err != nil {
		return err
	}
	return t.Table.BatchWrite(ctx, items)
}
