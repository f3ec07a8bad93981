package control

import (
	"fmt"
	"strings"
)

// #region turn-priority

// TurnPriority ranks a turn at a stop-sign intersection. Higher values are
// served first; Stop is the class that must come to a full stop.
type TurnPriority int

const (
	Stop TurnPriority = iota
	Yield
	Priority
)

func (p TurnPriority) String() string {
	switch p {
	case Stop:
		return "stop"
	case Yield:
		return "yield"
	case Priority:
		return "priority"
	default:
		return fmt.Sprintf("TurnPriority(%d)", int(p))
	}
}

// ParseTurnPriority parses "stop", "yield" or "priority" (case-insensitive).
func ParseTurnPriority(s string) (TurnPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop":
		return Stop, nil
	case "yield":
		return Yield, nil
	case "priority":
		return Priority, nil
	}
	return 0, fmt.Errorf("unknown turn priority %q", s)
}

func (p TurnPriority) MarshalText() ([]byte, error) {
	if p < Stop || p > Priority {
		return nil, fmt.Errorf("invalid turn priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *TurnPriority) UnmarshalText(b []byte) error {
	parsed, err := ParseTurnPriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// #endregion turn-priority
