// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"context"
	"testing"
	"time"
)

func TestSharedBudgetLimit(t *testing.T) {
	budget := NewSharedBudget(3)
	if n := budget.Available(); n != 3 {
		t.Fatal("Incorrect initial budget", n)
	}

	table := newFakeTable(10)
	limited := budget.Limit(table)

	if err := limited.BatchWrite(context.Background(), makeIntItems(3)); err != nil {
		t.Fatal("Unexpected error", err)
	}
	if n := budget.Available(); n != 0 {
		t.Error("Budget not consumed", n)
	}

	// budget is exhausted for the rest of this second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := limited.BatchWrite(ctx, makeIntItems(1)); err != context.DeadlineExceeded {
		t.Error("Incorrect error", err)
	}
	if n := len(table.batches); n != 1 {
		t.Error("Batch written without budget", n)
	}
}

func TestSharedBudgetPassesDescribe(t *testing.T) {
	limited := NewSharedBudget(1).Limit(newFakeTable(7))
	wcu, err := limited.DescribeCapacity(context.Background())
	if err != nil || wcu != 7 {
		t.Error("Unexpected result", wcu, err)
	}
}

// Two writers sharing a budget are held to the combined rate
func TestSharedBudgetAcrossWriters(t *testing.T) {
	budget := NewSharedBudget(4)
	t1, t2 := newFakeTable(4), newFakeTable(4)
	w1 := &BatchWriter{Table: budget.Limit(t1), Window: time.Millisecond}
	w2 := &BatchWriter{Table: budget.Limit(t2), Window: time.Millisecond}

	start := time.Now()
	if _, err := w1.Write(context.Background(), 1.0, makeIntItems(4)); err != nil {
		t.Fatal("Unexpected error", err)
	}
	written, err := w2.Write(context.Background(), 1.0, makeIntItems(4))
	if err != nil {
		t.Fatal("Unexpected error", err)
	}
	if written != 4 {
		t.Error("Incorrect written count", written)
	}
	// the second writer's batch has to wait for the budget to refill
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Error("Second writer exceeded the shared budget", elapsed)
	}
}
