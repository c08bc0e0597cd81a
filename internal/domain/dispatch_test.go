package domain

import "testing"

func TestStatus_StringAndRetryable(t *testing.T) {
	cases := []struct {
		s         Status
		label     string
		retryable bool
	}{
		{StatusDelivered, "delivered", false},
		{StatusInvalidToken, "invalid_token", false},
		{StatusThrottled, "throttled", true},
		{StatusTransientFailure, "transient_failure", true},
		{Status(42), "unknown", false},
	}
	for _, tc := range cases {
		if got := tc.s.String(); got != tc.label {
			t.Errorf("Status(%d).String() = %q; want %q", tc.s, got, tc.label)
		}
		if got := tc.s.Retryable(); got != tc.retryable {
			t.Errorf("Status(%d).Retryable() = %v; want %v", tc.s, got, tc.retryable)
		}
	}
}

func TestDispatchResult_CountAndDone(t *testing.T) {
	var nilRes *DispatchResult
	if !nilRes.Done() {
		t.Fatalf("nil result should be done")
	}

	r := &DispatchResult{}
	for _, s := range []Status{StatusDelivered, StatusDelivered, StatusInvalidToken, StatusThrottled, StatusTransientFailure, Status(9)} {
		r.Count(s)
	}
	if r.Delivered != 2 || r.InvalidToken != 1 || r.Throttled != 1 || r.TransientFailure != 1 {
		t.Fatalf("unexpected counts: %+v", r)
	}
	if !r.Done() {
		t.Fatalf("no pending tokens -> Done() should be true")
	}
	r.PendingRetry = []string{"tok"}
	if r.Done() {
		t.Fatalf("pending tokens -> Done() should be false")
	}
}
