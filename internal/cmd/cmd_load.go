// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Bowery/prompt"
	"github.com/cheggaaa/pb"
	"github.com/gwatts/dynthrottle/dynthrottle"
	cli "github.com/jawher/mow.cli"
)

func RegisterLoadCommand(app *cli.Cli) {
	app.Command("load", "Load items from S3 or a file into a DynamoDB table at a fraction of its write capacity", func(cmd *cli.Cmd) {
		cmd.Spec = "[-r] [-m] [--max-rate] [--max-retries] [--force] (--filename | --stdin | (--s3-bucket --s3-prefix [--skip-checks])) TABLENAME"
		action := &loader{
			tableName: cmd.StringArg("TABLENAME", "",
				"Table name to load into"),
			capacityRatio: cmd.String(cli.StringOpt{
				Name:   "r capacity-ratio",
				Value:  defaultCapacityRatio,
				Desc:   "Fraction of the table's provisioned write capacity to use (eg. 0.5 for half)",
				EnvVar: "CAPACITY_RATIO",
			}),
			maxItems: cmd.Int(cli.IntOpt{
				Name:   "m maxitems",
				Value:  0,
				Desc:   "Maximum number of items to load.  Set to 0 to load all items",
				EnvVar: "MAXITEMS",
			}),
			maxRate: cmd.Int(cli.IntOpt{
				Name:   "max-rate",
				Value:  0,
				Desc:   "Absolute cap on items written per second, in addition to the capacity ratio (0 for none)",
				EnvVar: "MAX_RATE",
			}),
			force: cmd.Bool(cli.BoolOpt{
				Name:   "force",
				Value:  false,
				Desc:   "Set to true to disable the confirmation prompt",
				EnvVar: "NO_LOAD_PROMPT",
			}),
			filename: cmd.String(cli.StringOpt{
				Name:   "f filename",
				Value:  "",
				Desc:   "Filename to read data from",
				EnvVar: "FILENAME",
			}),
			stdin: cmd.Bool(cli.BoolOpt{
				Name:   "stdin",
				Value:  false,
				Desc:   "If true then read the data from stdin",
				EnvVar: "USE_STDIN",
			}),
			s3BucketName: cmd.String(cli.StringOpt{
				Name:   "s3-bucket",
				Value:  "",
				Desc:   "S3 bucket name to read from",
				EnvVar: "S3_BUCKET",
			}),
			s3Prefix: cmd.String(cli.StringOpt{
				Name:   "s3-prefix",
				Value:  "",
				Desc:   `Path prefix of a dyndump backup to read from S3 (eg. "backups/2016-04-01-12:25-")`,
				EnvVar: "S3_PREFIX",
			}),
			skipIntegrityCheck: cmd.Bool(cli.BoolOpt{
				Name:   "skip-checks",
				Value:  false,
				Desc:   "If true then data integrity checks will be skipped during restore",
				EnvVar: "SKIP_CHECKS",
			}),
			maxRetries: maxRetriesOpt(cmd),
		}

		cmd.Action = actionRunner(cmd, action)
	})
}

type loader struct {
	loader    *dynthrottle.Loader
	table     *dynthrottle.DynamoTable
	cancel    context.CancelFunc
	ratio     float64
	wcu       int64
	source    string
	closer    io.Closer // closed once the load finishes
	size      int64
	itemCount int64
	startTime time.Time

	// options
	tableName          *string
	capacityRatio      *string
	maxItems           *int
	maxRate            *int
	force              *bool
	filename           *string
	stdin              *bool
	s3BucketName       *string
	s3Prefix           *string
	skipIntegrityCheck *bool
	maxRetries         *int
}

func (ld *loader) init() (err error) {
	if ld.ratio, err = parseCapacityRatio(*ld.capacityRatio); err != nil {
		return err
	}
	if *ld.maxItems < 0 {
		return fmt.Errorf("invalid value for --maxitems: %d", *ld.maxItems)
	}
	if *ld.maxRate < 0 {
		return fmt.Errorf("invalid value for --max-rate: %d", *ld.maxRate)
	}

	aws := initAWS(*ld.maxRetries)
	ld.table = dynthrottle.NewDynamoTable(aws.dyn, *ld.tableName)

	// only used for the status line and prompt; the writer reads
	// the capacity again when it starts.
	if ld.wcu, err = ld.table.DescribeCapacity(context.Background()); err != nil {
		return err
	}
	if ld.wcu < 1 {
		return dynthrottle.ErrNoWriteCapacity
	}

	defer func() {
		if err != nil && ld.closer != nil {
			ld.closer.Close()
		}
	}()

	var r io.Reader
	ld.size = -1 // unknown
	switch {
	case *ld.stdin:
		r = os.Stdin
		ld.source = "stdin"

	case *ld.filename != "":
		f, err := os.Open(*ld.filename)
		if err != nil {
			return fmt.Errorf("Failed to open file for read: %v", err)
		}
		ld.source = *ld.filename
		ld.closer = f
		r = f
		if fi, err := f.Stat(); err == nil {
			ld.size = fi.Size()
		}

	case *ld.s3BucketName != "":
		ld.source = fmt.Sprintf("s3://%s/%s", *ld.s3BucketName, *ld.s3Prefix)
		sr := &dynthrottle.S3Reader{
			S3:                 aws.s3,
			Bucket:             *ld.s3BucketName,
			PathPrefix:         *ld.s3Prefix,
			SkipIntegrityCheck: *ld.skipIntegrityCheck,
		}
		md, err := sr.Metadata()
		if err != nil {
			return fmt.Errorf("Failed to read metadata from S3: %v", err)
		}
		if md.Status != dynthrottle.StatusCompleted && !*ld.skipIntegrityCheck {
			return fmt.Errorf("backup status is %q; use --skip-checks to load it anyway", md.Status)
		}
		ld.size = md.UncompressedBytes
		ld.itemCount = md.ItemCount
		ld.closer = sr
		r = sr

	default:
		panic("Either s3-bucket & s3-prefix, stdin or filename must be set")
	}

	if *ld.maxItems > 0 && (ld.itemCount == 0 || int64(*ld.maxItems) < ld.itemCount) {
		ld.itemCount = int64(*ld.maxItems)
	}

	if !*ld.force {
		fmt.Printf("Load items from %s into table %s at up to %d items/sec\n\n",
			ld.source, *ld.tableName, dynthrottle.ItemsPerWindow(ld.wcu, ld.ratio))
		ok, err := prompt.Ask("Existing items with the same keys will be overwritten.  Continue")
		if err != nil {
			return fmt.Errorf("Could not prompt for confirmation (use --force to override): %v", err)
		}
		if !ok {
			return errors.New("User rejected load")
		}
	}

	var table dynthrottle.Table = ld.table
	if *ld.maxRate > 0 {
		table = dynthrottle.NewSharedBudget(int64(*ld.maxRate)).Limit(table)
	}

	ld.loader = &dynthrottle.Loader{
		Table:         table,
		CapacityRatio: ld.ratio,
		MaxItems:      int64(*ld.maxItems),
		Source:        dynthrottle.NewSimpleDecoder(r),
	}
	return nil
}

func (ld *loader) start(termWriter io.Writer, logger *log.Logger) (done chan error, err error) {
	status := fmt.Sprintf(
		"Beginning load: table=%q source=%q writeCapacity=%d capacityRatio=%g "+
			"itemsPerWindow=%d maxRate=%d totalSize=%s",
		*ld.tableName, ld.source, ld.wcu, ld.ratio,
		dynthrottle.ItemsPerWindow(ld.wcu, ld.ratio), *ld.maxRate, fmtBytes(ld.size))

	fmt.Fprintln(termWriter, status)
	logger.Println(status)

	var ctx context.Context
	ctx, ld.cancel = context.WithCancel(context.Background())
	done = make(chan error, 1)
	ld.startTime = time.Now()

	go func() {
		err := ld.loader.RunContext(ctx)
		if ld.closer != nil {
			// stops any S3 transfer still in progress if --maxitems cut the load short
			ld.closer.Close()
		}
		switch {
		case errors.Is(err, context.Canceled):
			logger.Printf("Load aborted table=%s", *ld.tableName)
			err = nil

		case err != nil:
			logger.Printf("Load failed table=%s error=%v", *ld.tableName, err)

		default:
			logger.Printf("Load completed OK table=%s", *ld.tableName)
		}
		logger.Println("Final load stats", ld.formatStats())
		done <- err
	}()

	return done, nil
}

func (ld *loader) formatStats() string {
	stats := ld.loader.Stats()
	tstats := ld.table.Stats()
	deltaSeconds := time.Since(ld.startTime).Seconds()
	return fmt.Sprintf("table=%s avg_items_sec=%.2f avg_capacity_sec=%.2f "+
		"total_items_read=%d total_items_written=%d total_batches=%d "+
		"total_bytes=%d requests=%d resubmitted=%d",
		*ld.tableName,
		float64(stats.ItemsWritten)/deltaSeconds, tstats.CapacityUsed/deltaSeconds,
		stats.ItemsRead, stats.ItemsWritten, stats.BatchesWritten,
		stats.BytesWritten, tstats.Requests, tstats.Resubmitted)
}

func (ld *loader) abort() {
	ld.cancel()
}

func (ld *loader) newProgressBar() *pb.ProgressBar {
	return pb.New64(ld.itemCount)
}

func (ld *loader) updateProgress(bar *pb.ProgressBar) {
	bar.Set64(ld.loader.Stats().ItemsWritten)
}

func (ld *loader) logProgress(logger *log.Logger) {
	logger.Printf("Load in progress - current stats %s", ld.formatStats())
}

func (ld *loader) printFinalStats(w io.Writer) {
	stats := ld.loader.Stats()
	tstats := ld.table.Stats()
	deltaSeconds := time.Since(ld.startTime).Seconds()

	fmt.Fprintf(w, "Avg items/sec: %.2f\n", float64(stats.ItemsWritten)/deltaSeconds)
	fmt.Fprintf(w, "Avg capacity/sec: %.2f\n", tstats.CapacityUsed/deltaSeconds)
	fmt.Fprintln(w, "Total items read: ", stats.ItemsRead)
	fmt.Fprintln(w, "Total items written: ", stats.ItemsWritten)
	fmt.Fprintln(w, "Total batches written: ", stats.BatchesWritten)
}
