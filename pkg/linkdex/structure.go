package linkdex

import (
	"encoding/json"
	"fmt"
)

// Structure describes how much of a DAG can be reconstructed from the blocks
// an index has seen.
type Structure int

const (
	// Unknown means there is no usable link evidence.
	Unknown Structure = iota
	// Partial means at least one referenced block is missing.
	Partial
	// Complete means every referenced block is present or inlined.
	Complete
)

func (s Structure) String() string {
	switch s {
	case Complete:
		return "Complete"
	case Partial:
		return "Partial"
	default:
		return "Unknown"
	}
}

// ParseStructure parses the string form of a Structure.
func ParseStructure(s string) (Structure, error) {
	switch s {
	case "Complete":
		return Complete, nil
	case "Partial":
		return Partial, nil
	case "Unknown":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("invalid structure %q", s)
}

func (s Structure) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Structure) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v, err := ParseStructure(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
