// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxBatchWriteItems is the largest number of items DynamoDB accepts
	// in a single BatchWriteItem request.
	MaxBatchWriteItems = 25

	defaultUnprocessedRetries = 8
)

// Resubmissions of unprocessed items back off exponentially, with jitter,
// between these bounds.
var (
	unprocessedInitialInterval = 50 * time.Millisecond
	unprocessedMaxInterval     = 5 * time.Second
)

// DynBatcher defines the portion of the DynamoDB service that DynamoTable
// requires.
type DynBatcher interface {
	DescribeTableWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error)
	BatchWriteItemWithContext(ctx aws.Context, input *dynamodb.BatchWriteItemInput, opts ...request.Option) (*dynamodb.BatchWriteItemOutput, error)
}

// UnprocessedError is returned by DynamoTable.BatchWrite if DynamoDB
// still refused to process some items after all resubmissions.
type UnprocessedError struct {
	TableName   string
	Unprocessed int // Number of items that were not written
	Attempts    int
}

func (e *UnprocessedError) Error() string {
	return fmt.Sprintf("%d items left unprocessed in table %s after %d attempts",
		e.Unprocessed, e.TableName, e.Attempts)
}

// DynamoTableStats is returned by DynamoTable.Stats.
type DynamoTableStats struct {
	Requests     int64 // BatchWriteItem calls made, including resubmissions
	Resubmitted  int64 // Items resubmitted after being returned unprocessed
	CapacityUsed float64
}

// DynamoTable implements Table for a single DynamoDB table.
//
// BatchWrite splits batches into BatchWriteItem requests of at most
// MaxBatchWriteItems puts and resubmits any unprocessed items so that each
// call either stores every item or fails.  Note that a failure part way
// through a batch may leave some of that batch's items written.
type DynamoTable struct {
	Dyn       DynBatcher
	TableName string

	// MaxUnprocessedRetries is the number of times unprocessed items
	// are resubmitted before giving up.  NewDynamoTable sets this to 8.
	MaxUnprocessedRetries int

	requests     int64
	resubmitted  int64
	capacityUsed int64 // multiplied by 10
}

// NewDynamoTable creates a DynamoTable using the default settings.
func NewDynamoTable(dyn DynBatcher, tableName string) *DynamoTable {
	return &DynamoTable{
		Dyn:                   dyn,
		TableName:             tableName,
		MaxUnprocessedRetries: defaultUnprocessedRetries,
	}
}

// Stats returns counters for the requests made so far.
// It is safe to call from concurrent goroutines.
func (t *DynamoTable) Stats() DynamoTableStats {
	return DynamoTableStats{
		Requests:     atomic.LoadInt64(&t.requests),
		Resubmitted:  atomic.LoadInt64(&t.resubmitted),
		CapacityUsed: float64(atomic.LoadInt64(&t.capacityUsed)) / 10,
	}
}

// DescribeCapacity returns the provisioned write capacity of the table.
// Tables using on-demand billing report zero.
func (t *DynamoTable) DescribeCapacity(ctx context.Context) (int64, error) {
	resp, err := t.Dyn.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(t.TableName),
	})
	if err != nil {
		return 0, err
	}
	if resp.Table == nil || resp.Table.ProvisionedThroughput == nil {
		return 0, nil
	}
	return aws.Int64Value(resp.Table.ProvisionedThroughput.WriteCapacityUnits), nil
}

// BatchWrite puts all of the supplied items into the table.
func (t *DynamoTable) BatchWrite(ctx context.Context, items []Item) error {
	for len(items) > 0 {
		n := len(items)
		if n > MaxBatchWriteItems {
			n = MaxBatchWriteItems
		}
		if err := t.put(ctx, items[:n]); err != nil {
			return err
		}
		items = items[n:]
	}
	return nil
}

func (t *DynamoTable) put(ctx context.Context, items []Item) error {
	reqs := make([]*dynamodb.WriteRequest, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{Item: item},
		})
	}

	boff := t.newBackOff(ctx)
	for attempt := 1; ; attempt++ {
		resp, err := t.Dyn.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems:           map[string][]*dynamodb.WriteRequest{t.TableName: reqs},
			ReturnConsumedCapacity: aws.String(dynamodb.ReturnConsumedCapacityTotal),
		})
		atomic.AddInt64(&t.requests, 1)
		if err != nil {
			return fmt.Errorf("batch write to %s failed: %w", t.TableName, err)
		}
		for _, cc := range resp.ConsumedCapacity {
			atomic.AddInt64(&t.capacityUsed, int64(aws.Float64Value(cc.CapacityUnits)*10))
		}

		reqs = resp.UnprocessedItems[t.TableName]
		if len(reqs) == 0 {
			return nil
		}

		wait := boff.NextBackOff()
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return err
			}
			return &UnprocessedError{
				TableName:   t.TableName,
				Unprocessed: len(reqs),
				Attempts:    attempt,
			}
		}
		atomic.AddInt64(&t.resubmitted, int64(len(reqs)))
		if err := waitForWindow(ctx, time.Now().Add(wait)); err != nil {
			return err
		}
	}
}

// newBackOff returns the policy used to pace resubmissions of a single
// request.  It stops after MaxUnprocessedRetries resubmissions or once ctx
// is done.
func (t *DynamoTable) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = unprocessedInitialInterval
	eb.MaxInterval = unprocessedMaxInterval
	eb.MaxElapsedTime = 0 // bounded by retry count instead

	var retries uint64
	if t.MaxUnprocessedRetries > 0 {
		retries = uint64(t.MaxUnprocessedRetries)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)
	b.Reset()
	return b
}
