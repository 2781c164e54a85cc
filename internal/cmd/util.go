// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gwatts/dynthrottle/dynthrottle"
	cli "github.com/jawher/mow.cli"
)

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
	tib = 1 << 40
)

func fmtBytes(bytes int64) string {
	switch {
	case bytes < 0:
		return "unknown"
	case bytes < kib:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < mib:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kib)
	case bytes < gib:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mib)
	case bytes < tib:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gib)
	default:
		return fmt.Sprintf("%.1f TB", float64(bytes)/tib)
	}
}

func fail(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	cli.Exit(100)
}

// parseCapacityRatio converts the --capacity-ratio option to a float,
// rejecting any value the writer would refuse.
func parseCapacityRatio(s string) (float64, error) {
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity ratio %q", s)
	}
	if err := dynthrottle.ValidateCapacityRatio(ratio); err != nil {
		return 0, err
	}
	return ratio, nil
}

func maxRetriesOpt(cmd *cli.Cmd) *int {
	return cmd.Int(cli.IntOpt{
		Name:   "max-retries",
		Value:  awsMaxRetries,
		Desc:   "Maximum number of retry attempts to make with AWS services before failing",
		EnvVar: "AWS_MAX_RETRIES",
	})
}

type awsServices struct {
	s3  *s3.S3
	dyn *dynamodb.DynamoDB
}

func initAWS(maxRetries int) *awsServices {
	if maxRetries < 0 {
		fail("Invalid value for --max-retries: %d", maxRetries)
	}

	r := &CustomRetryer{
		DefaultRetryer: client.DefaultRetryer{
			NumMaxRetries: maxRetries,
		},
	}

	cfg := aws.NewConfig()
	cfg = request.WithRetryer(cfg, r)

	s, err := session.NewSession(cfg)
	if err != nil {
		fail("Failed to create AWS session: %v", err)
	}

	return &awsServices{
		s3:  s3.New(s),
		dyn: dynamodb.New(s),
	}
}

// CustomRetryer extends the default AWS retry policy.
type CustomRetryer struct {
	client.DefaultRetryer
}

// ShouldRetry implements request.Retryer.
func (cr *CustomRetryer) ShouldRetry(r *request.Request) bool {
	// Dropped connections during large batch writes surface as a
	// SerializationError; trap and force a retry.  BatchWriteItem only
	// puts whole items so resending the request is safe.
	if r.Error != nil && r.Operation.Name == "BatchWriteItem" {
		if err, ok := r.Error.(awserr.Error); ok {
			if err.Code() == request.ErrCodeSerialization {
				return true
			}
		}
	}

	return cr.DefaultRetryer.ShouldRetry(r)
}
