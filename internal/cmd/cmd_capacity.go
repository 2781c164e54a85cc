// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package cmd

import (
	"context"
	"os"
	"text/template"

	"github.com/gwatts/dynthrottle/dynthrottle"
	cli "github.com/jawher/mow.cli"
)

func RegisterCapacityCommand(app *cli.Cli) {
	app.Command("capacity", "Display a table's write capacity and the batch size a load would use", func(cmd *cli.Cmd) {
		cmd.Spec = "[-r] [--max-retries] TABLENAME"
		action := &capacityDumper{
			tableName: cmd.StringArg("TABLENAME", "",
				"Table name to describe"),
			capacityRatio: cmd.String(cli.StringOpt{
				Name:   "r capacity-ratio",
				Value:  defaultCapacityRatio,
				Desc:   "Fraction of the table's provisioned write capacity to use",
				EnvVar: "CAPACITY_RATIO",
			}),
			maxRetries: maxRetriesOpt(cmd),
		}

		cmd.Action = action.run
	})
}

var capacityTmpl = template.Must(template.New("capacity").Parse(`
Table Name ..........: {{ .TableName }}
Write Capacity Units : {{ .WriteCapacityUnits }}
Capacity Ratio ......: {{ .CapacityRatio }}
Items Per Window ....: {{ .ItemsPerWindow }}
Window ..............: {{ .Window }}
`))

type capacityInfo struct {
	TableName          string
	WriteCapacityUnits int64
	CapacityRatio      float64
	ItemsPerWindow     int
	Window             string
}

type capacityDumper struct {
	// options
	tableName     *string
	capacityRatio *string
	maxRetries    *int
}

func (cd *capacityDumper) run() {
	ratio, err := parseCapacityRatio(*cd.capacityRatio)
	if err != nil {
		fail("%v", err)
	}

	aws := initAWS(*cd.maxRetries)
	wcu, err := dynthrottle.NewDynamoTable(aws.dyn, *cd.tableName).DescribeCapacity(context.Background())
	if err != nil {
		fail("Failed to describe table: %v", err)
	}
	if wcu < 1 {
		fail("Table %s has no provisioned write capacity (on-demand billing?)", *cd.tableName)
	}

	capacityTmpl.Execute(os.Stdout, capacityInfo{
		TableName:          *cd.tableName,
		WriteCapacityUnits: wcu,
		CapacityRatio:      ratio,
		ItemsPerWindow:     dynthrottle.ItemsPerWindow(wcu, ratio),
		Window:             dynthrottle.DefaultWindow.String(),
	})
}
