package analysable

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the immutable seven-field AnalyseResult snapshot (spec.md §3,
// §4.9). Times are milliseconds since the Unix epoch; Latency and QPS are
// derived, never re-derived after construction.
type Result struct {
	ID             string `json:"id"`
	TotalRequest   int64  `json:"total_request"`
	SuccessRequest int64  `json:"success_request"`
	Latency        int64  `json:"latency"`
	QPS            int64  `json:"qps"`
	StartTime      int64  `json:"start_time"`
	StopTime       int64  `json:"stop_time"`
}

// ToJSON encodes the result as the flat seven-key object spec.md §6 names.
func (r *Result) ToJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("straw: encode result: %w", err)
	}
	return string(b), nil
}

// FromJSON decodes a Result from its JSON form, failing if any of the
// seven required keys is absent.
func FromJSON(data string) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("straw: decode result: %w", err)
	}
	for _, key := range []string{"id", "total_request", "success_request", "latency", "qps", "start_time", "stop_time"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("straw: decode result: missing field %q", key)
		}
	}
	var r Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("straw: decode result: %w", err)
	}
	return &r, nil
}

// FromResults merges a set of per-tier results into one aggregate: latency
// is the wall-clock span (max stop - min start), never a sum; qps is
// computed from that span, never summed from child qps values.
func FromResults(id string, results []*Result) (*Result, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("straw: from_results requires at least one result")
	}
	start := results[0].StartTime
	stop := results[0].StopTime
	var total, success int64
	for _, r := range results {
		if r.StartTime < start {
			start = r.StartTime
		}
		if r.StopTime > stop {
			stop = r.StopTime
		}
		total += r.TotalRequest
		success += r.SuccessRequest
	}
	latency := stop - start
	return &Result{
		ID:             id,
		TotalRequest:   total,
		SuccessRequest: success,
		Latency:        latency,
		QPS:            qps(success, latency),
		StartTime:      start,
		StopTime:       stop,
	}, nil
}

// String renders the original source's human-readable banner
// (camelstraw.core.interfaces.AnalyseResult.__repr__), kept for CLI
// pretty-printing alongside the JSON codec.
func (r *Result) String() string {
	bar := "================================================================================"
	return fmt.Sprintf("%s\nId: %s\nRequest: %d/%d\nLatency: %d ms\nQPS: %d\nStart Time: %s\nStop Time: %s\n%s",
		bar, r.ID, r.SuccessRequest, r.TotalRequest, r.Latency, r.QPS,
		time.UnixMilli(r.StartTime).Format("2006-01-02 15:04:05"),
		time.UnixMilli(r.StopTime).Format("2006-01-02 15:04:05"),
		bar)
}
