package trip

// legalTransitions is the trip lifecycle's transition table, for callers
// validating a transition before issuing one. The store's CAS statements
// write their status preconditions in SQL and do not consult it.
var legalTransitions = map[Status][]Status{
	StatusRequested:       {StatusAccepted, StatusNotApproved, StatusFailed, StatusCancelled},
	StatusAccepted:        {StatusArrived, StatusRequested, StatusCancelled},
	StatusArrived:         {StatusOnRide, StatusRequested, StatusCancelled},
	StatusOnRide:          {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether moving a trip from `from` to `to` is legal.
// Terminal statuses (completed, notApprove, failed, cancelled) have no
// outbound transitions.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no further legal transitions.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusNotApproved, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
