// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

/*
Command dynthrottle loads items into a DynamoDB table without using more than
a set fraction of the table's provisioned write capacity.

Items are read from a file, stdin or a dyndump backup held in S3, in the
JSON format written by dyndump.  The table's write capacity is read when the
load starts and items are written in batches of
ceil(writeCapacity * capacityRatio), one batch per second.

AWS credentials and region are read from the environment or the shared
configuration files, as with other AWS tools:
* AWS_ACCESS_KEY_ID
* AWS_SECRET_ACCESS_KEY
* AWS_REGION
*/
package main

import (
	"os"

	"github.com/gwatts/dynthrottle/internal/cmd"
	cli "github.com/jawher/mow.cli"
)

var version = "dev"

func main() {
	app := cli.App("dynthrottle", "Rate limited bulk loads into DynamoDB")
	app.Version("version", version)

	cmd.RegisterLoadCommand(app)
	cmd.RegisterCapacityCommand(app)
	cmd.RegisterInfoCommand(app)

	app.Run(os.Args)
}
