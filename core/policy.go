package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// This type indicates whether an instance may be reclaimed by rolling
// deletion.
type DeletionPolicy int

const (
	DeletionAllowed DeletionPolicy = iota
	DeletionDisallowed
)

var policyNames = map[DeletionPolicy]string{
	DeletionAllowed:    "ALLOWED",
	DeletionDisallowed: "DISALLOWED",
}

func ParseDeletionPolicy(name string) (DeletionPolicy, error) {
	for policy, policyName := range policyNames {
		if policyName == name {
			return policy, nil
		}
	}
	return DeletionDisallowed, fmt.Errorf("invalid deletion policy: %s", name)
}

func (p DeletionPolicy) String() string {
	if name, found := policyNames[p]; found {
		return name
	}
	return "UNKNOWN"
}

func (p DeletionPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *DeletionPolicy) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	policy, err := ParseDeletionPolicy(name)
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

func (p DeletionPolicy) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *DeletionPolicy) Scan(value any) error {
	name, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			name = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into DeletionPolicy", value)
		}
	}
	policy, err := ParseDeletionPolicy(name)
	if err != nil {
		return err
	}
	*p = policy
	return nil
}
