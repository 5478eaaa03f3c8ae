// Package scheduler drives time-based work: the candidate scans that enqueue
// lifecycle jobs, the trigger that runs one scan under a job lock and the
// in-process cron loop that fires triggers.
package scheduler

import (
	"fmt"
	"time"
)

// TaskType identifies a trigger task.
type TaskType string

const (
	// TaskScanNearExpiry enqueues expire jobs for subscriptions expiring within
	// the next hour and for overdue subscriptions a missed trigger never
	// scheduled.
	TaskScanNearExpiry TaskType = "scan_near_expiry"
	// TaskScanWarnings enqueues warning jobs for the 7, 3 and 1 day thresholds.
	TaskScanWarnings TaskType = "scan_warnings"
	// TaskCleanup enqueues one cleanup job per target.
	TaskCleanup TaskType = "cleanup"
)

// Tasks lists every task the trigger understands.
var Tasks = []TaskType{TaskScanNearExpiry, TaskScanWarnings, TaskCleanup}

// ParseTaskType validates a task name.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range Tasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task %q", s)
}

// TaskPayload is the input to Trigger.Run.
//
//	{
//	  "task": "scan_warnings",
//	  "reference_time": "2026-02-06T09:00:00Z"  // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// ThresholdReport is the outcome of one scan window.
type ThresholdReport struct {
	// Threshold is the warning day count, or 0 for the near-expiry and
	// overdue windows.
	Threshold int    `json:"threshold"`
	Window    string `json:"window"`
	Found     int    `json:"found"`
	Enqueued  int    `json:"enqueued"`
	Failed    int    `json:"failed"`
	Err       error  `json:"-"`
}

// ScanReport aggregates the windows of one scan run.
type ScanReport struct {
	Thresholds []ThresholdReport `json:"thresholds"`
}

// Enqueued is the total number of jobs enqueued across windows.
func (r ScanReport) Enqueued() int {
	n := 0
	for _, t := range r.Thresholds {
		n += t.Enqueued
	}
	return n
}

// Err returns the first window error, if any.
func (r ScanReport) Err() error {
	for _, t := range r.Thresholds {
		if t.Err != nil {
			return t.Err
		}
	}
	return nil
}
