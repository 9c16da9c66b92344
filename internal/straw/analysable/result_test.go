package analysable

import "testing"

func TestResultJSONRoundTrip(t *testing.T) {
	r := &Result{
		ID:             "run-1",
		TotalRequest:   100,
		SuccessRequest: 95,
		Latency:        3000,
		QPS:            31,
		StartTime:      1_700_000_000_000,
		StopTime:       1_700_000_003_000,
	}

	data, err := r.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if *decoded != *r {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, r)
	}
}

func TestFromJSONRequiresAllFields(t *testing.T) {
	if _, err := FromJSON(`{"id":"x","total_request":1}`); err == nil {
		t.Fatal("FromJSON with missing fields should fail")
	}
}

func TestFromResultsMergesSpanNotSum(t *testing.T) {
	results := []*Result{
		{ID: "a", TotalRequest: 10, SuccessRequest: 9, StartTime: 1000, StopTime: 2000},
		{ID: "b", TotalRequest: 5, SuccessRequest: 5, StartTime: 1500, StopTime: 3000},
	}

	merged, err := FromResults("agg", results)
	if err != nil {
		t.Fatalf("FromResults: %v", err)
	}
	if merged.StartTime != 1000 {
		t.Errorf("StartTime = %d, want 1000 (min of children)", merged.StartTime)
	}
	if merged.StopTime != 3000 {
		t.Errorf("StopTime = %d, want 3000 (max of children)", merged.StopTime)
	}
	if merged.Latency != 2000 {
		t.Errorf("Latency = %d, want 2000 (span, not sum)", merged.Latency)
	}
	if merged.TotalRequest != 15 || merged.SuccessRequest != 14 {
		t.Errorf("totals = %d/%d, want 15/14", merged.TotalRequest, merged.SuccessRequest)
	}
	wantQPS := merged.SuccessRequest * 1000 / merged.Latency
	if merged.QPS != wantQPS {
		t.Errorf("QPS = %d, want %d", merged.QPS, wantQPS)
	}
}

func TestFromResultsRejectsEmpty(t *testing.T) {
	if _, err := FromResults("empty", nil); err == nil {
		t.Fatal("FromResults with no results should fail")
	}
}
