// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package cmd

import (
	"io"
	"io/ioutil"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/gwatts/dynthrottle/dynthrottle"
)

type fakeDyn struct {
	written int64
}

func (d *fakeDyn) DescribeTableWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			ProvisionedThroughput: &dynamodb.ProvisionedThroughputDescription{
				WriteCapacityUnits: aws.Int64(10),
			},
		},
	}, nil
}

func (d *fakeDyn) BatchWriteItemWithContext(ctx aws.Context, input *dynamodb.BatchWriteItemInput, opts ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	for _, reqs := range input.RequestItems {
		atomic.AddInt64(&d.written, int64(len(reqs)))
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

type closeRecorder struct {
	io.Reader
	closed int32
}

func (c *closeRecorder) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

// The source should be closed once the load has finished
func TestLoadClosesSource(t *testing.T) {
	tableName := "test-table"
	maxRate := 0
	dyn := new(fakeDyn)
	table := dynthrottle.NewDynamoTable(dyn, tableName)
	src := &closeRecorder{Reader: strings.NewReader(`{"v":{"N":"1"}}` + "\n" + `{"v":{"N":"2"}}`)}

	ld := &loader{
		loader: &dynthrottle.Loader{
			Table:         table,
			CapacityRatio: 1,
			Source:        dynthrottle.NewSimpleDecoder(src),
		},
		table:     table,
		closer:    src,
		ratio:     1,
		source:    "test",
		tableName: &tableName,
		maxRate:   &maxRate,
	}

	done, err := ld.start(ioutil.Discard, log.New(ioutil.Discard, "", 0))
	if err != nil {
		t.Fatal("Unexpected error from start", err)
	}

	select {
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for load to complete")
	case err := <-done:
		if err != nil {
			t.Error("Unexpected error from load", err)
		}
	}

	if n := atomic.LoadInt32(&src.closed); n != 1 {
		t.Error("Incorrect number of calls to Close", n)
	}
	if n := atomic.LoadInt64(&dyn.written); n != 2 {
		t.Error("Incorrect number of items written", n)
	}
}
