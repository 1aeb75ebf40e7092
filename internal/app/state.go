package app

// SessionState is the negotiation lifecycle of one call session. The
// guards live in the transitions: a duplicate offer cannot move the
// machine out of Answering twice, a late answer finds the machine past
// AwaitingAnswer, and a failed attempt parks in Failed without tearing
// the session down.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateInitializing
	StateAwaitingOffer
	StateAnswering
	StateAwaitingAnswer
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateAnswering:
		return "answering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions is the single source of truth for the machine.
// Closed is reachable from everywhere (cleanup), Failed from every
// live state (recorded error, session kept intact).
var validTransitions = map[SessionState][]SessionState{
	StateIdle:           {StateInitializing, StateClosed},
	StateInitializing:   {StateAwaitingOffer, StateAnswering, StateAwaitingAnswer, StateFailed, StateClosed},
	StateAwaitingOffer:  {StateAnswering, StateConnected, StateFailed, StateClosed},
	StateAnswering:      {StateConnected, StateFailed, StateClosed},
	StateAwaitingAnswer: {StateConnected, StateFailed, StateClosed},
	StateConnected:      {StateFailed, StateClosed},
	StateFailed:         {StateClosed},
	StateClosed:         {StateInitializing},
}

// canTransition reports whether from→to is a legal move.
func canTransition(from, to SessionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
