package cmd

import "time"

const (
	statsFrequency       = 2 * time.Second
	logFrequency         = 30 * time.Second
	awsMaxRetries        = 10
	defaultCapacityRatio = "1.0"
)
