package playback

// State is the position of the router in its completion cycle.
type State int

const (
	// StateIdle means a segment is playing or ready and no decision is pending.
	StateIdle State = iota
	// StateAwaitingDelay means a replay is scheduled and not yet due.
	StateAwaitingDelay
	// StateReplaying means the current segment is being rewound and resumed.
	StateReplaying
	// StateAdvancing means another verse is being loaded.
	StateAdvancing
	// StateStopped means there is nothing left to play.
	StateStopped
	// StateFailed means the transport rejected an operation.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDelay:
		return "awaiting-delay"
	case StateReplaying:
		return "replaying"
	case StateAdvancing:
		return "advancing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateMachine guards router state transitions.
type stateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     func(State)
}

func newStateMachine(onEnter func(State)) *stateMachine {
	return &stateMachine{
		current: StateStopped,
		transitions: map[State][]State{
			StateIdle:          {StateAwaitingDelay, StateAdvancing, StateStopped, StateFailed, StateIdle},
			StateAwaitingDelay: {StateReplaying, StateIdle, StateAdvancing, StateStopped},
			StateReplaying:     {StateIdle, StateFailed, StateStopped, StateAdvancing},
			StateAdvancing:     {StateIdle, StateFailed, StateStopped, StateAdvancing},
			StateStopped:       {StateAdvancing, StateIdle},
			StateFailed:        {StateAdvancing, StateIdle, StateStopped},
		},
		onEnter: onEnter,
	}
}

// transition moves to the given state if allowed.
func (sm *stateMachine) transition(to State) bool {
	valid := false
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	changed := sm.current != to
	sm.current = to
	if changed && sm.onEnter != nil {
		sm.onEnter(to)
	}
	return true
}
