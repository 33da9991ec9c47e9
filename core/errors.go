package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Severities and categories for durable diagnostic records. Handlers and
// background tasks attach one of each to every error they log to the
// database.

type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[ErrorSeverity]string{
	SeverityInfo:     "INFO",
	SeverityWarning:  "WARNING",
	SeverityError:    "ERROR",
	SeverityCritical: "CRITICAL",
}

type ErrorCategory int

const (
	// a checksum mismatch at rest or in transit
	CategoryDataIntegrity ErrorCategory = iota
	// an advertised instance is not present on disk
	CategoryDataAvailability
	// a missing or mis-named store, librarian, or user
	CategoryConfiguration
	// no store can admit a request
	CategoryStoreFull
	// an assertion about transfer state failed
	CategoryProgramming
	// a peer is unreachable or returned an invalid response
	CategoryLibrarianNetworkAvailability
	// a specific transfer could not complete
	CategoryTransfer
)

var categoryNames = map[ErrorCategory]string{
	CategoryDataIntegrity:                "DATA_INTEGRITY",
	CategoryDataAvailability:             "DATA_AVAILABILITY",
	CategoryConfiguration:                "CONFIGURATION",
	CategoryStoreFull:                    "STORE_FULL",
	CategoryProgramming:                  "PROGRAMMING",
	CategoryLibrarianNetworkAvailability: "LIBRARIAN_NETWORK_AVAILABILITY",
	CategoryTransfer:                     "TRANSFER",
}

func ParseErrorSeverity(name string) (ErrorSeverity, error) {
	for severity, severityName := range severityNames {
		if severityName == name {
			return severity, nil
		}
	}
	return SeverityError, fmt.Errorf("invalid error severity: %s", name)
}

func ParseErrorCategory(name string) (ErrorCategory, error) {
	for category, categoryName := range categoryNames {
		if categoryName == name {
			return category, nil
		}
	}
	return CategoryProgramming, fmt.Errorf("invalid error category: %s", name)
}

func (s ErrorSeverity) String() string {
	if name, found := severityNames[s]; found {
		return name
	}
	return "UNKNOWN"
}

func (c ErrorCategory) String() string {
	if name, found := categoryNames[c]; found {
		return name
	}
	return "UNKNOWN"
}

func (s ErrorSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ErrorSeverity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	severity, err := ParseErrorSeverity(name)
	if err != nil {
		return err
	}
	*s = severity
	return nil
}

func (c ErrorCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ErrorCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	category, err := ParseErrorCategory(name)
	if err != nil {
		return err
	}
	*c = category
	return nil
}

func (s ErrorSeverity) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *ErrorSeverity) Scan(value any) error {
	name, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			name = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into ErrorSeverity", value)
		}
	}
	severity, err := ParseErrorSeverity(name)
	if err != nil {
		return err
	}
	*s = severity
	return nil
}

func (c ErrorCategory) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *ErrorCategory) Scan(value any) error {
	name, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			name = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into ErrorCategory", value)
		}
	}
	category, err := ParseErrorCategory(name)
	if err != nil {
		return err
	}
	*c = category
	return nil
}
