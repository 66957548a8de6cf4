package core

import "fmt"

// Policy governs how tasks sharing a tag may overlap.
type Policy int

const (
	// PolicyShared lets any number of tasks carrying the tag run
	// concurrently. This is the initial default policy.
	PolicyShared Policy = iota

	// PolicyExclusive admits at most one running task per tag.
	PolicyExclusive

	// PolicyPriority admits a candidate alongside a running task on the
	// same tag only when the candidate's priority is strictly greater.
	PolicyPriority
)

func (p Policy) String() string {
	switch p {
	case PolicyShared:
		return "shared"
	case PolicyExclusive:
		return "exclusive"
	case PolicyPriority:
		return "priority"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "shared":
		return PolicyShared, nil
	case "exclusive":
		return PolicyExclusive, nil
	case "priority":
		return PolicyPriority, nil
	default:
		return PolicyShared, fmt.Errorf("unknown policy %q", s)
	}
}
