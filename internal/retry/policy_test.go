package retry

import "testing"

func TestPolicy_Retryable(t *testing.T) {
	policy := &Policy{
		RetryOnAM04:       false,
		RetryableCodes:    []string{"MS03"},
		NonRetryableCodes: []string{"AC04", "MD01", "MS03"},
	}

	tests := []struct {
		name string
		code string
		want bool
	}{
		{"deny list blocks", "AC04", false},
		{"deny list wins over allow list", "MS03", false},
		{"AM04 follows the policy flag", "AM04", false},
		{"unknown codes default to retryable", "AG01", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Retryable(tt.code); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	t.Run("allow list admits a code", func(t *testing.T) {
		p := &Policy{RetryableCodes: []string{"MS03"}}
		if !p.Retryable("MS03") {
			t.Error("expected MS03 to be retryable via the allow list")
		}
	})

	t.Run("AM04 retryable when enabled", func(t *testing.T) {
		p := &Policy{RetryOnAM04: true}
		if !p.Retryable(AM04) {
			t.Error("expected AM04 to be retryable with RetryOnAM04")
		}
	})
}

func TestPolicy_DelayAfter(t *testing.T) {
	policy := &Policy{RetryDelaysDays: []int{5, 10, 15}}

	tests := []struct {
		name    string
		attempt int
		want    int
	}{
		{"after attempt 1", 1, 10},
		{"after attempt 2", 2, 15},
		{"clamps to the last delay", 7, 15},
		{"zero indexes the first delay", 0, 5},
		{"negative indexes the first delay", -1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.DelayAfter(tt.attempt); got != tt.want {
				t.Errorf("DelayAfter(%d) = %d, want %d", tt.attempt, got, tt.want)
			}
		})
	}

	t.Run("empty delay list yields zero", func(t *testing.T) {
		p := &Policy{}
		if got := p.DelayAfter(1); got != 0 {
			t.Errorf("DelayAfter on empty list = %d, want 0", got)
		}
	})

	t.Run("first delay", func(t *testing.T) {
		if got := policy.FirstDelay(); got != 5 {
			t.Errorf("FirstDelay = %d, want 5", got)
		}
	})
}

func TestPolicy_StopsOn(t *testing.T) {
	policy := &Policy{
		StopOnPaymentSettled:    true,
		StopOnContractCancelled: false,
		StopOnMandateRevoked:    true,
	}

	if !policy.StopsOn(StopPaymentSettled) {
		t.Error("expected policy to stop on payment settled")
	}
	if policy.StopsOn(StopContractCancelled) {
		t.Error("expected policy to ignore contract cancellation")
	}
	if !policy.StopsOn(StopMandateRevoked) {
		t.Error("expected policy to stop on mandate revocation")
	}
	if policy.StopsOn(StopKind("UNKNOWN")) {
		t.Error("unknown stop kinds must not match")
	}
}
