package trip

import "testing"

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusRequested, StatusAccepted, true},
		{StatusRequested, StatusNotApproved, true},
		{StatusRequested, StatusFailed, true},
		{StatusRequested, StatusCancelled, true},
		{StatusAccepted, StatusArrived, true},
		{StatusAccepted, StatusRequested, true}, // driver cancel
		{StatusAccepted, StatusCancelled, true},
		{StatusArrived, StatusOnRide, true},
		{StatusArrived, StatusRequested, true}, // driver cancel
		{StatusArrived, StatusCancelled, true},
		{StatusOnRide, StatusAwaitingPayment, true},
		{StatusOnRide, StatusCancelled, true},
		{StatusAwaitingPayment, StatusCompleted, true},
		{StatusAwaitingPayment, StatusCancelled, true},

		{StatusRequested, StatusArrived, false},
		{StatusRequested, StatusOnRide, false},
		{StatusRequested, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusOnRide, StatusRequested, false},
		{StatusOnRide, StatusCompleted, false},
		{StatusCompleted, StatusRequested, false},
		{StatusCancelled, StatusRequested, false},
		{StatusNotApproved, StatusAccepted, false},
		{StatusFailed, StatusRequested, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminalStatusesHaveNoOutboundTransitions(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusNotApproved, StatusFailed, StatusCancelled}
	all := []Status{
		StatusRequested, StatusAccepted, StatusArrived, StatusOnRide,
		StatusAwaitingPayment, StatusCompleted, StatusNotApproved, StatusFailed, StatusCancelled,
	}

	for _, from := range terminals {
		if !IsTerminal(from) {
			t.Errorf("expected %s to be terminal", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}

	for _, s := range []Status{StatusRequested, StatusAccepted, StatusArrived, StatusOnRide, StatusAwaitingPayment} {
		if IsTerminal(s) {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
