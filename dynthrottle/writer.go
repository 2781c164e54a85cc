// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// DefaultWindow is the length of a pacing window.  Provisioned capacity is
// expressed per second, so one batch is released per second.
const DefaultWindow = time.Second

var (
	// ErrInvalidArgument is returned, wrapped, when the capacity ratio
	// is not a positive finite number.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoWriteCapacity is returned when the table reports no provisioned
	// write capacity to pace against (eg. an on-demand table).
	ErrNoWriteCapacity = errors.New("table has no provisioned write capacity")
)

// Item is a single DynamoDB item.
type Item = map[string]*dynamodb.AttributeValue

// Table defines the operations a BatchWriter requires from the table it
// writes to.
//
// BatchWrite must either store every item it's given or return an error;
// partial success must be resolved by the implementation before returning.
type Table interface {
	DescribeCapacity(ctx context.Context) (writeCapacityUnits int64, err error)
	BatchWrite(ctx context.Context, items []Item) error
}

// BatchResult is passed to BatchWriter.OnBatch after each successful batch.
type BatchResult struct {
	Batch          []Item
	Written        int // Total items written so far, including Batch
	ItemsPerWindow int
	Elapsed        time.Duration // Time taken by the BatchWrite call
}

// BatchWriter writes items to a Table in batches, releasing at most one
// batch per window.
//
// A BatchWriter holds no state between calls to Write and may be used
// by concurrent goroutines, though each call paces itself independently.
type BatchWriter struct {
	Table  Table
	Window time.Duration // Defaults to DefaultWindow if zero

	// OnBatch, if set, is called after every successful batch from the
	// goroutine calling Write.
	OnBatch func(BatchResult)
}

// ThrottledBatchWrite writes items to table using no more than
// capacityRatio of its provisioned write capacity.  It returns the number
// of items written, which will be less than len(items) if an error occurred.
func ThrottledBatchWrite(ctx context.Context, table Table, capacityRatio float64, items []Item) (written int, err error) {
	w := &BatchWriter{Table: table}
	return w.Write(ctx, capacityRatio, items)
}

// ItemsPerWindow returns the number of items that may be written in a single
// window for a table with the given write capacity.
func ItemsPerWindow(writeCapacityUnits int64, capacityRatio float64) int {
	n := math.Ceil(float64(writeCapacityUnits) * capacityRatio)
	if n >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// ValidateCapacityRatio checks that a ratio is usable by Write.
func ValidateCapacityRatio(capacityRatio float64) error {
	// NaN fails every comparison
	if !(capacityRatio > 0) || math.IsInf(capacityRatio, 1) {
		return fmt.Errorf("%w: capacityRatio must be positive, got %v", ErrInvalidArgument, capacityRatio)
	}
	return nil
}

// Write looks up the table's current write capacity then submits items in
// order, one batch per window, until all items are written or a call to the
// table fails.  Errors from the table are returned unmodified.
//
// Cancelling ctx stops the writer between windows; a batch already submitted
// is allowed to complete.  In that case ctx.Err() is returned along with the
// number of items written.
func (w *BatchWriter) Write(ctx context.Context, capacityRatio float64, items []Item) (written int, err error) {
	perWindow, window, err := w.prepare(ctx, capacityRatio)
	if err != nil {
		return 0, err
	}

	// batches are never interrupted once sent
	batchCtx := context.WithoutCancel(ctx)

	for written < len(items) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		windowStart := time.Now()
		end := written + perWindow
		if end > len(items) || end < written {
			end = len(items)
		}
		batch := items[written:end]

		if err := w.Table.BatchWrite(batchCtx, batch); err != nil {
			return written, err
		}
		written += len(batch)
		w.batchDone(batch, written, perWindow, windowStart)

		if written < len(items) {
			if err := waitForWindow(ctx, windowStart.Add(window)); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// WriteFrom is like Write, but pulls items from r as the load progresses
// rather than requiring them all up front.  Reading stops at io.EOF, or once
// maxItems items have been read if maxItems is greater than zero.
//
// The next window's batch is read while the current window runs, so no more
// than two batches are held in memory.  Items read before a read error are
// written before that error is returned.
func (w *BatchWriter) WriteFrom(ctx context.Context, capacityRatio float64, r ItemReader, maxItems int64) (written int, err error) {
	perWindow, window, err := w.prepare(ctx, capacityRatio)
	if err != nil {
		return 0, err
	}

	src := &batchReader{r: r, max: maxItems}
	batch, readErr := src.next(perWindow)

	batchCtx := context.WithoutCancel(ctx)
	var windowStart time.Time

	for len(batch) > 0 {
		if !windowStart.IsZero() {
			if err := waitForWindow(ctx, windowStart.Add(window)); err != nil {
				return written, err
			}
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		windowStart = time.Now()
		if err := w.Table.BatchWrite(batchCtx, batch); err != nil {
			return written, err
		}
		written += len(batch)
		w.batchDone(batch, written, perWindow, windowStart)

		if readErr != nil {
			return written, readErr
		}
		batch, readErr = src.next(perWindow)
	}
	return written, readErr
}

// prepare validates the ratio and fetches the table's capacity, returning
// the batch size and window length for a single call.
func (w *BatchWriter) prepare(ctx context.Context, capacityRatio float64) (perWindow int, window time.Duration, err error) {
	if err := ValidateCapacityRatio(capacityRatio); err != nil {
		return 0, 0, err
	}

	wcu, err := w.Table.DescribeCapacity(ctx)
	if err != nil {
		return 0, 0, err
	}
	if wcu < 1 {
		return 0, 0, ErrNoWriteCapacity
	}

	window = w.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return ItemsPerWindow(wcu, capacityRatio), window, nil
}

func (w *BatchWriter) batchDone(batch []Item, written, perWindow int, windowStart time.Time) {
	if w.OnBatch != nil {
		w.OnBatch(BatchResult{
			Batch:          batch,
			Written:        written,
			ItemsPerWindow: perWindow,
			Elapsed:        time.Since(windowStart),
		})
	}
}

// batchReader groups the items from an ItemReader into batches.
type batchReader struct {
	r    ItemReader
	max  int64 // zero for no limit
	read int64
	done bool
}

// next returns up to n items.  An empty batch with a nil error means the
// source is exhausted.
func (b *batchReader) next(n int) (batch []Item, err error) {
	for len(batch) < n && !b.done {
		if b.max > 0 && b.read >= b.max {
			b.done = true
			break
		}
		item, err := b.r.ReadItem()
		if err != nil {
			b.done = true
			if err == io.EOF {
				err = nil
			}
			return batch, err
		}
		batch = append(batch, item)
		b.read++
	}
	return batch, nil
}

// waitForWindow blocks until the deadline passes, or ctx is cancelled.
func waitForWindow(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
