package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// This type represents the status of a transfer (incoming, outgoing, or
// local clone). All transfers share one status lattice:
//
//	INITIATED -> ONGOING -> STAGED -> COMPLETED
//	    |          |          |
//	 FAILED / CANCELLED (terminal)
//
// Terminal states admit no further change, and INITIATED is not reachable
// from any other state.
type TransferStatus int

const (
	StatusInitiated TransferStatus = iota
	StatusOngoing
	StatusStaged
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = map[TransferStatus]string{
	StatusInitiated: "INITIATED",
	StatusOngoing:   "ONGOING",
	StatusStaged:    "STAGED",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusCancelled: "CANCELLED",
}

// returns the status corresponding to the given name, or an error for an
// unrecognized name
func ParseTransferStatus(name string) (TransferStatus, error) {
	for status, statusName := range statusNames {
		if statusName == name {
			return status, nil
		}
	}
	return StatusFailed, fmt.Errorf("invalid transfer status: %s", name)
}

func (s TransferStatus) String() string {
	if name, found := statusNames[s]; found {
		return name
	}
	return "UNKNOWN"
}

// returns true if the status admits no further transitions
func (s TransferStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// The transitions a remote caller may request via the check-in endpoints.
// COMPLETED never appears on the right-hand side: completion requires
// server-side ingest (inbound) or a peer acknowledgement (outbound), so it
// is only ever set by local logic.
var allowedUpdates = map[TransferStatus][]TransferStatus{
	StatusInitiated: {StatusOngoing, StatusStaged, StatusFailed, StatusCancelled},
	StatusOngoing:   {StatusStaged, StatusFailed, StatusCancelled},
	StatusStaged:    {StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// indicates whether local logic may move a transfer from one status to
// another: forward moves along the lattice, or failure/cancellation from
// any non-terminal state; nothing leaves a terminal state
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	if s.Terminal() || s == next {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	switch next {
	case StatusOngoing:
		return s == StatusInitiated
	case StatusStaged:
		return s == StatusInitiated || s == StatusOngoing
	case StatusCompleted:
		return s == StatusInitiated || s == StatusOngoing || s == StatusStaged
	}
	return false
}

// indicates whether a remote caller is allowed to move a transfer from one
// status to another
func (s TransferStatus) CanUpdateTo(next TransferStatus) bool {
	for _, allowed := range allowedUpdates[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransferStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TransferStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	status, err := ParseTransferStatus(name)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// transfer statuses are stored in the database by name, not by ordinal, so
// that rows remain readable and reorderings of the enum are harmless

func (s TransferStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *TransferStatus) Scan(value any) error {
	name, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			name = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into TransferStatus", value)
		}
	}
	status, err := ParseTransferStatus(name)
	if err != nil {
		return err
	}
	*s = status
	return nil
}
