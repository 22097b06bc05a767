package object

import (
	"fmt"
	"strings"
)

// StatusKind is the tag of a Status.
type StatusKind int

const (
	StatusCommitted StatusKind = iota
	StatusFailed
	StatusOutOfEnergy
)

func (k StatusKind) String() string {
	switch k {
	case StatusCommitted:
		return "committed"
	case StatusFailed:
		return "failed"
	case StatusOutOfEnergy:
		return "out_of_energy"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Status is the outcome of a transaction: a tagged union where only the failed variant carries a
// payload (the error message). Two statuses are equal iff both the tag and the payload match.
type Status struct {
	Kind    StatusKind
	Message string
}

// Committed returns the status of a committed transaction.
func Committed() Status { return Status{Kind: StatusCommitted} }

// Failed returns the status of a transaction that failed with the given message.
func Failed(msg string) Status { return Status{Kind: StatusFailed, Message: msg} }

// OutOfEnergy returns the status of a transaction that ran out of energy.
func OutOfEnergy() Status { return Status{Kind: StatusOutOfEnergy} }

// IsCommitted reports whether the transaction committed.
func (s Status) IsCommitted() bool { return s.Kind == StatusCommitted }

// Equal compares the tag and, for the failed variant, the message.
func (s Status) Equal(o Status) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == StatusFailed {
		return s.Message == o.Message
	}
	return true
}

func (s Status) String() string {
	if s.Kind == StatusFailed {
		return fmt.Sprintf("failed: %s", s.Message)
	}
	return s.Kind.String()
}

// ParseStatus parses "committed", "out_of_energy" or "failed[: message]".
func ParseStatus(s string) (Status, error) {
	switch {
	case s == "" || s == "committed":
		return Committed(), nil
	case s == "out_of_energy":
		return OutOfEnergy(), nil
	case s == "failed":
		return Failed(""), nil
	case strings.HasPrefix(s, "failed:"):
		return Failed(strings.TrimSpace(strings.TrimPrefix(s, "failed:"))), nil
	default:
		return Status{}, fmt.Errorf("unknown transaction status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
