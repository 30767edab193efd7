package dispatcher

import "testing"

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var b breaker

	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.recordFailure()
		if b.open() {
			t.Fatalf("breaker open after %d failures, threshold is %d", i+1, breakerFailureThreshold)
		}
	}

	b.recordFailure()
	if !b.open() {
		t.Fatal("expected breaker open at threshold")
	}
}

func TestBreakerSuccessResetsTheCount(t *testing.T) {
	var b breaker

	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.recordFailure()
	}
	b.recordSuccess()

	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.recordFailure()
	}
	if b.open() {
		t.Fatal("expected success to reset the consecutive-failure count")
	}
}
