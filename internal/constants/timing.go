package constants

import "time"

// Helm invocation defaults.
const (
	HelmTimeout    = 5 * time.Minute
	HelmHistoryMax = 10
)

// Scheduler defaults.
const (
	DefaultStatusInterval = "@every 30s"
	DefaultHealthInterval = "@every 1m"

	PassStartsPerSecond = 10
	PassStartBurst      = 100
)
