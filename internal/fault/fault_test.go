package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := Wrap(DeviceError, errors.New("timeout"), "heater: set output level")
	assert.Equal(t, "DEVICE_ERROR: heater: set output level: timeout", err.Error())

	agg := &Error{Code: NotConfigured, Message: "cannot start", Problems: []string{"a", "b"}}
	assert.Equal(t, "NOT_CONFIGURED: cannot start (a; b)", agg.Error())
}

func TestPredicates_WrappedErrors(t *testing.T) {
	base := New(StorageError, "disk full")
	wrapped := fmt.Errorf("append row: %w", base)

	assert.True(t, IsStorageError(wrapped))
	assert.False(t, IsDeviceError(wrapped))
	assert.Equal(t, StorageError, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestHas_NestedCodes(t *testing.T) {
	inner := New(DeviceError, "gate: read input level")
	outer := Wrap(InvalidState, inner, "run aborted")

	assert.True(t, IsInvalidState(outer))
	assert.True(t, IsDeviceError(outer), "codes deeper in the chain are found")
	assert.False(t, IsNotConfigured(outer))
	assert.False(t, Has(nil, DeviceError))
}

func TestProblems_Aggregates(t *testing.T) {
	var p Problems
	require.NoError(t, p.Err(InvalidParameter, "bad sweep"))

	p.Add("gate steps must be >= 1")
	p.Addf("heater hold must be >= 0, got %v", -1)
	p.Merge(nil)
	p.Merge(&Error{Code: InvalidParameter, Message: "x", Problems: []string{"nested"}})
	p.Merge(errors.New("plain"))

	err := p.Err(InvalidParameter, "bad sweep")
	require.Error(t, err)
	assert.True(t, IsInvalidParameter(err))

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, []string{
		"gate steps must be >= 1",
		"heater hold must be >= 0, got -1",
		"nested",
		"plain",
	}, fe.Problems)
	assert.Equal(t, 4, p.Len())
}
