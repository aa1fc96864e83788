// Package cron runs the daemon's periodic maintenance jobs, most importantly
// the stale-request sweep.
package cron

import "context"

// Job is a named periodic task.
type Job interface {
	// Name uniquely identifies the job within a scheduler.
	Name() string

	// Schedule is a cron expression or descriptor (e.g. "@every 60s").
	Schedule() string

	// Run executes one tick. The context is cancelled on scheduler stop.
	Run(ctx context.Context) error
}
