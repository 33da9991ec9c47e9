package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

// tests that status names round-trip through parsing
func TestParseTransferStatus(t *testing.T) {
	for _, name := range []string{"INITIATED", "ONGOING", "STAGED", "COMPLETED",
		"FAILED", "CANCELLED"} {
		status, err := ParseTransferStatus(name)
		assert.Nil(t, err)
		assert.Equal(t, name, status.String())
	}
	_, err := ParseTransferStatus("PENDING")
	assert.NotNil(t, err, "Unrecognized status didn't trigger an error.")
}

// tests that only COMPLETED, FAILED, and CANCELLED are terminal
func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusInitiated.Terminal())
	assert.False(t, StatusOngoing.Terminal())
	assert.False(t, StatusStaged.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

// tests the full table of remotely-requestable transitions
func TestAllowedUpdates(t *testing.T) {
	all := []TransferStatus{StatusInitiated, StatusOngoing, StatusStaged,
		StatusCompleted, StatusFailed, StatusCancelled}

	allowed := map[TransferStatus][]TransferStatus{
		StatusInitiated: {StatusOngoing, StatusStaged, StatusFailed, StatusCancelled},
		StatusOngoing:   {StatusStaged, StatusFailed, StatusCancelled},
		StatusStaged:    {StatusFailed, StatusCancelled},
	}
	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, status := range allowed[from] {
				if status == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanUpdateTo(to),
				"%s -> %s", from, to)
		}
	}
}

// tests that statuses are marshaled to JSON as their names
func TestStatusJsonRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusStaged)
	assert.Nil(t, err)
	assert.Equal(t, `"STAGED"`, string(data))

	var status TransferStatus
	err = json.Unmarshal([]byte(`"CANCELLED"`), &status)
	assert.Nil(t, err)
	assert.Equal(t, StatusCancelled, status)

	err = json.Unmarshal([]byte(`"BOGUS"`), &status)
	assert.NotNil(t, err)
}
