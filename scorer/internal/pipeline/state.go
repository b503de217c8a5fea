package pipeline

// State is the controller's position in its lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateModelLoaded
	StateThresholdSet
	StateReady
	StateFetching
	StateWindowing
	StateScoring
	StatePersisting
	StateDone
)

var stateNames = [...]string{
	StateUninitialized: "UNINITIALIZED",
	StateModelLoaded:   "MODEL_LOADED",
	StateThresholdSet:  "THRESHOLD_SET",
	StateReady:         "READY",
	StateFetching:      "FETCHING",
	StateWindowing:     "WINDOWING",
	StateScoring:       "SCORING",
	StatePersisting:    "PERSISTING",
	StateDone:          "DONE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
