package domain

// PartitionState is the position of a partition worker in its processing loop.
type PartitionState int32

const (
	StateIdle PartitionState = iota
	StateReading
	StateApplying
	StateRetrying
	StateCheckpointing
	StateDeadLettered
)

func (s PartitionState) String() string {
	switch s {
	case StateReading:
		return "READING"
	case StateApplying:
		return "APPLYING"
	case StateRetrying:
		return "RETRYING"
	case StateCheckpointing:
		return "CHECKPOINTING"
	case StateDeadLettered:
		return "DEAD_LETTERED"
	default:
		return "IDLE"
	}
}

// MarshalText renders the state name.
func (s PartitionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PartitionLag is the distance between the log head and a group's checkpoint.
type PartitionLag struct {
	Group      string         `json:"group"`
	Partition  Partition      `json:"partition"`
	Head       Offset         `json:"head"`
	Checkpoint Offset         `json:"checkpoint"`
	Lag        int64          `json:"lag"`
	State      PartitionState `json:"state"`
}

// ComputeLag derives lag from the head (next offset to be written) and the checkpoint.
func ComputeLag(head Offset, checkpoint Checkpoint) int64 {
	lag := int64(head - checkpoint.Next())
	if lag < 0 {
		return 0
	}
	return lag
}

// UnmarshalText parses a state name; unknown names map to IDLE.
func (s *PartitionState) UnmarshalText(text []byte) error {
	for candidate := StateIdle; candidate <= StateDeadLettered; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	*s = StateIdle
	return nil
}
