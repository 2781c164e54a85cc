// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

/*
Package dynthrottle writes large sets of items to a DynamoDB table without
exceeding a chosen fraction of the table's provisioned write capacity.

Items are split into batches of ceil(WriteCapacityUnits * ratio) items and
one batch is submitted per one second window.  Windows are measured from the
moment they are opened, so a slow batch write counts against its own window
rather than pushing the writer over its ceiling.

A Loader reads items from an ItemReader, such as a SimpleDecoder or an
S3Reader streaming a backup, and writes them through a BatchWriter while
exposing progress statistics.
*/
package dynthrottle
