package health

// State is the classification of worker health. The set is closed: every
// switch over State must name all three values.
type State int

const (
	Stopped State = iota
	Waiting
	Running
)

// States lists every State in declaration order.
func States() []State { return []State{Stopped, Waiting, Running} }

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func stateNames() []string {
	all := States()
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.String()
	}
	return out
}
