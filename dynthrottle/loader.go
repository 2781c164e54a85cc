// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// LoaderStats are returned by Loader.Stats
type LoaderStats struct {
	ItemsRead      int64
	ItemsWritten   int64
	BatchesWritten int64
	BytesWritten   int64
	ItemsPerWindow int64 // Zero until the first batch has been written
}

// Loader reads records from an ItemReader and loads them into a table
// using a BatchWriter.
//
// Items are written as they're read; no more than one window's worth of
// items is held in memory at a time.
type Loader struct {
	Table         Table
	CapacityRatio float64       // Fraction of the table's write capacity to use
	MaxItems      int64         // Maximum number of items to load; zero for all
	Source        ItemReader    // The source to fetch items from
	Window        time.Duration // Pacing window; defaults to DefaultWindow

	itemsRead      int64
	itemsWritten   int64
	batchesWritten int64
	bytesWritten   int64
	itemsPerWindow int64

	m       sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// Run executes the loader.  Returns when the load has finished, failed or
// been stopped.  If Stop was called, Run returns context.Canceled and Stats
// reports the number of items that were written.
func (ld *Loader) Run() error {
	return ld.RunContext(context.Background())
}

// RunContext is like Run, but also stops the load if ctx is cancelled.
func (ld *Loader) RunContext(ctx context.Context) error {
	if ld.Table == nil || ld.Source == nil {
		return errors.New("Loader requires a Table and a Source")
	}
	if err := ValidateCapacityRatio(ld.CapacityRatio); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ld.m.Lock()
	if ld.stopped {
		ld.m.Unlock()
		return context.Canceled
	}
	ld.cancel = cancel
	ld.m.Unlock()

	w := &BatchWriter{
		Table:   ld.Table,
		Window:  ld.Window,
		OnBatch: ld.recordBatch,
	}
	src := &countingReader{ItemReader: ld.Source, n: &ld.itemsRead}
	_, err := w.WriteFrom(ctx, ld.CapacityRatio, src, ld.MaxItems)
	return err
}

// Stop requests a clean shutdown of the load.  It does not block.
// A batch that has already been sent to the table is allowed to complete.
func (ld *Loader) Stop() {
	ld.m.Lock()
	defer ld.m.Unlock()
	ld.stopped = true
	if ld.cancel != nil {
		ld.cancel()
	}
}

// Stats return the current loader statistics.
// It is safe to call from concurrent goroutines.
func (ld *Loader) Stats() LoaderStats {
	return LoaderStats{
		ItemsRead:      atomic.LoadInt64(&ld.itemsRead),
		ItemsWritten:   atomic.LoadInt64(&ld.itemsWritten),
		BatchesWritten: atomic.LoadInt64(&ld.batchesWritten),
		BytesWritten:   atomic.LoadInt64(&ld.bytesWritten),
		ItemsPerWindow: atomic.LoadInt64(&ld.itemsPerWindow),
	}
}

type countingReader struct {
	ItemReader
	n *int64
}

func (r *countingReader) ReadItem() (Item, error) {
	item, err := r.ItemReader.ReadItem()
	if err == nil {
		atomic.AddInt64(r.n, 1)
	}
	return item, err
}

func (ld *Loader) recordBatch(r BatchResult) {
	atomic.StoreInt64(&ld.itemsPerWindow, int64(r.ItemsPerWindow))
	atomic.StoreInt64(&ld.itemsWritten, int64(r.Written))
	atomic.AddInt64(&ld.batchesWritten, 1)
	atomic.AddInt64(&ld.bytesWritten, batchSize(r.Batch))
}

func batchSize(items []Item) (n int64) {
	for _, item := range items {
		n += itemSize(item)
	}
	return n
}

// itemSize approximates the stored size of an item in bytes; see
// https://docs.aws.amazon.com/amazondynamodb/latest/developerguide/CapacityUnitCalculations.html
func itemSize(item Item) (n int64) {
	for name, av := range item {
		n += int64(len(name)) + attrSize(av)
	}
	return n
}

func attrSize(av *dynamodb.AttributeValue) int64 {
	const overhead = 3 // charged for each set, list and map

	if av == nil {
		return 0
	}
	switch {
	case av.S != nil:
		return int64(len(*av.S))
	case av.N != nil:
		return int64(len(*av.N))
	case av.B != nil:
		return int64(len(av.B))
	case av.BOOL != nil, av.NULL != nil:
		return 1
	case av.SS != nil:
		return overhead + stringsSize(av.SS)
	case av.NS != nil:
		return overhead + stringsSize(av.NS)
	case av.BS != nil:
		n := int64(overhead)
		for _, b := range av.BS {
			n += int64(len(b))
		}
		return n
	case av.L != nil:
		n := int64(overhead)
		for _, v := range av.L {
			n += attrSize(v)
		}
		return n
	case av.M != nil:
		return overhead + itemSize(av.M)
	}
	return 0
}

func stringsSize(ss []*string) (n int64) {
	for _, s := range ss {
		n += int64(len(aws.StringValue(s)))
	}
	return n
}
