package panicerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafe(t *testing.T) {
	sentinel := errors.New("boom")

	assert.NoError(t, Run(func() error { return nil }))
	assert.ErrorIs(t, Run(func() error { return sentinel }), sentinel)

	err := Run(func() error { panic("exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
}

func TestSafe_NilMapWrite(t *testing.T) {
	fn := Safe(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	assert.Error(t, fn())
}
