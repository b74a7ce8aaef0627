package clipboard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fake(paste bool) (*Deliverer, *[]string, *int) {
	var written []string
	pastes := 0
	d := &Deliverer{
		Paste:  paste,
		logger: zap.NewNop(),
		write:  func(s string) error { written = append(written, s); return nil },
		paste:  func() error { pastes++; return errors.New("no uinput") },
	}
	return d, &written, &pastes
}

func TestDeliverCopies(t *testing.T) {
	d, written, pastes := fake(false)
	require.NoError(t, d.Deliver("hello"))
	assert.Equal(t, []string{"hello"}, *written)
	assert.Zero(t, *pastes)
}

func TestDeliverPasteFailureIsNotAnError(t *testing.T) {
	d, written, pastes := fake(true)
	require.NoError(t, d.Deliver("hello"))
	assert.Equal(t, []string{"hello"}, *written)
	assert.Equal(t, 1, *pastes)
}

func TestDeliverEmptyIsNoop(t *testing.T) {
	d, written, _ := fake(true)
	require.NoError(t, d.Deliver(""))
	assert.Empty(t, *written)
}
