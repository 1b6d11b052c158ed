package engine

// State is a phase of a single audit run.
type State int

const (
	StateInit State = iota
	StateLoadingModel
	StateSampling
	StateTesting
	StateScoring
	StateCleanup
	StateDone
	StateError
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateLoadingModel: "LOADING_MODEL",
	StateSampling:     "SAMPLING",
	StateTesting:      "TESTING",
	StateScoring:      "SCORING",
	StateCleanup:      "CLEANUP",
	StateDone:         "DONE",
	StateError:        "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
