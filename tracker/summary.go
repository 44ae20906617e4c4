package tracker

import (
	"encoding/json"
	"time"
)

// Summary aggregates the timing of a log, for benchmark reports.
type Summary struct {
	Count    int            `json:"count"`
	Errors   int            `json:"errors"`
	Statuses map[int]int    `json:"statuses"`
	Min      time.Duration  `json:"min"`
	Max      time.Duration  `json:"max"`
	Avg      time.Duration  `json:"avg"`
	Total    time.Duration  `json:"total"`
	ByOp     map[string]int `json:"by_operation,omitempty"`
}

// Summarize computes a Summary over entries.
func Summarize(entries []Entry) Summary {
	s := Summary{Statuses: map[int]int{}, ByOp: map[string]int{}}
	for i, e := range entries {
		s.Count++
		if e.Error != nil {
			s.Errors++
		} else if e.Response != nil {
			s.Statuses[e.Response.StatusCode]++
		}
		if e.Request.Operation != "" {
			s.ByOp[e.Request.Operation]++
		}
		s.Total += e.Duration
		if i == 0 || e.Duration < s.Min {
			s.Min = e.Duration
		}
		if e.Duration > s.Max {
			s.Max = e.Duration
		}
	}
	if s.Count > 0 {
		s.Avg = s.Total / time.Duration(s.Count)
	}
	return s
}

// Summary summarizes the current log.
func (t *Tracker) Summary() Summary {
	return Summarize(t.Log())
}

// Export renders the log as JSON for reporting tools.
func (t *Tracker) Export() ([]byte, error) {
	return json.MarshalIndent(t.Log(), "", "  ")
}
