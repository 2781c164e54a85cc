// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import "time"

// MetadataStatus represents the state of a backup.
type MetadataStatus string

const (
	// StatusRunning represents a backup in progress.
	StatusRunning MetadataStatus = "running"

	// StatusFailed represents an aborted or failed backup.
	StatusFailed MetadataStatus = "failed"

	// StatusCompleted represents a successfully completed backup.
	StatusCompleted MetadataStatus = "completed"
)

// Metadata is stored alongside backups pushed to S3 by dyndump and
// describes the data an S3Reader will load.
type Metadata struct {
	TableName         string         `json:"table_name"`
	TableARN          string         `json:"table_arn"`
	Status            MetadataStatus `json:"status"`
	StartTime         time.Time      `json:"backup_start_time"`
	EndTime           *time.Time     `json:"backup_end_time"`
	UncompressedBytes int64          `json:"uncompressed_bytes"`
	CompressedBytes   int64          `json:"compressed_bytes"`
	ItemCount         int64          `json:"item_count"`
	PartCount         int            `json:"part_count"`
	Hash              string         `json:"hash"`        // sha256 of the part hashes
	LastHashed        int            `json:"last_hashed"` // number of parts covered by Hash
}

func s3MetaKey(prefix string) string {
	return prefix + "-meta.json"
}

func s3PartPrefix(prefix string) string {
	return prefix + "-part-"
}

// metaSha256 is the S3 object metadata key holding a part's sha256 hash.
const metaSha256 = "Sha256"
