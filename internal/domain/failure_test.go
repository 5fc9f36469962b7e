package domain

import "testing"

func TestEveryFailureKindIsClassified(t *testing.T) {
	retryable := map[FailureKind]bool{
		FailureInsufficientCredits: false,
		FailureInvalidInput:        false,
		FailurePolicyViolation:     false,
		FailureUserCancelled:       false,
		FailureUnclassified:        false,
		FailureSubmissionFailed:    false,
		FailureWorkerCrash:         true,
		FailureWorkerTimeout:       true,
		FailureNetwork:             true,
		FailureProviderUnavailable: true,
		FailureQueueUnavailable:    true,
	}
	if len(retryable) != len(FailureKinds) {
		t.Fatalf("FailureKinds has %d entries, table has %d", len(FailureKinds), len(retryable))
	}
	for _, kind := range FailureKinds {
		want, ok := retryable[kind]
		if !ok {
			t.Fatalf("failure kind %q has no expected classification", kind)
		}
		if got := kind.Retryable(); got != want {
			t.Fatalf("%q.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestParseFailureKind(t *testing.T) {
	kind, err := ParseFailureKind("network")
	if err != nil || kind != FailureNetwork {
		t.Fatalf("ParseFailureKind(network) = %q, %v", kind, err)
	}
	kind, err = ParseFailureKind("cosmic_rays")
	if err == nil {
		t.Fatalf("expected error for unknown tag")
	}
	if kind != FailureUnclassified || kind.Retryable() {
		t.Fatalf("unknown tag mapped to %q", kind)
	}
}

func TestJobTerminal(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"pending", Job{Status: JobStatusPending}, false},
		{"completed", Job{Status: JobStatusCompleted}, true},
		{"cancelled", Job{Status: JobStatusCancelled}, true},
		{"failed retryable with budget", Job{Status: JobStatusFailed, FailureReason: FailureNetwork, RetryCount: 1, MaxRetries: 2}, false},
		{"failed retryable exhausted", Job{Status: JobStatusFailed, FailureReason: FailureNetwork, RetryCount: 2, MaxRetries: 2}, true},
		{"failed non-retryable", Job{Status: JobStatusFailed, FailureReason: FailureUserCancelled, MaxRetries: 2}, true},
		{"failed refunded", Job{Status: JobStatusFailed, FailureReason: FailureQueueUnavailable, MaxRetries: 2, Refunded: true}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Terminal(); got != tc.want {
				t.Fatalf("Terminal() = %v, want %v", got, tc.want)
			}
		})
	}
}
