package scheduler

import (
	"context"
	"time"
)

// maxHistory bounds the results kept per job
const maxHistory = 100

// Job is one recurring unit of work
type Job interface {
	// Name identifies the job in logs and history
	Name() string

	// Run executes the job once
	Run(ctx context.Context) error

	// Schedule returns the cron expression, seconds field first
	// Examples: "0 0 3 * * *" (every day at 03:00), "@daily", "@every 6h"
	Schedule() string
}

// Result records one execution, retries included
type Result struct {
	Job       string        `json:"job"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// History keeps the latest results of one job
type History struct {
	Results []Result
}

// Add appends a result, dropping the oldest beyond maxHistory
func (h *History) Add(r Result) {
	h.Results = append(h.Results, r)
	if len(h.Results) > maxHistory {
		h.Results = h.Results[len(h.Results)-maxHistory:]
	}
}

// Last returns the most recent result
func (h *History) Last() (Result, bool) {
	if len(h.Results) == 0 {
		return Result{}, false
	}
	return h.Results[len(h.Results)-1], true
}

// SuccessRate returns the share of successful results (0.0 - 1.0)
func (h *History) SuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0
	}
	ok := 0
	for _, r := range h.Results {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(h.Results))
}
