package qudicore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionDefaultAppliesUntilSet(t *testing.T) {
	opt := NewOption[int]("exposure_ms").Configure(WithDefault(100))
	assert.Equal(t, 100, opt.Value())
	assert.True(t, opt.IsDefault())

	require.NoError(t, opt.setRaw(int64(250)))
	assert.Equal(t, 250, opt.Value())
	assert.False(t, opt.IsDefault())
}

func TestOptionCheckerRejectsInvalidValue(t *testing.T) {
	opt := NewOption[int]("exposure_ms").Configure(WithChecker(func(v int) error {
		if v <= 0 {
			return ErrValidation
		}
		return nil
	}))
	err := opt.setRaw(int64(-1))
	assert.ErrorIs(t, err, ErrDescriptor)
}

func TestOptionConstructorOverridesCast(t *testing.T) {
	opt := NewOption[[]string]("channels").Configure(WithConstructor(func(raw any) ([]string, error) {
		s, ok := raw.(string)
		if !ok {
			return nil, assert.AnError
		}
		return []string{s + "-a", s + "-b"}, nil
	}))
	require.NoError(t, opt.setRaw("ch"))
	assert.Equal(t, []string{"ch-a", "ch-b"}, opt.Value())
}

func TestOptionRequiredWithoutDefaultHasNoValue(t *testing.T) {
	opt := NewOption[string]("serial").Configure(Required[string]())
	assert.False(t, opt.hasValue())
	require.NoError(t, opt.setRaw("abc123"))
	assert.True(t, opt.hasValue())
}

func TestConnectorBindTypeMismatch(t *testing.T) {
	type Fooer interface{ Foo() }
	conn := NewConnector[Fooer]("dep", ConnectorRequired())
	err := conn.bind(42)
	assert.ErrorIs(t, err, ErrConnectorTypeMismatch)
	assert.False(t, conn.bound())
}

func TestConnectorTargetUnboundRaisesDefinedError(t *testing.T) {
	type Fooer interface{ Foo() }
	conn := NewConnector[Fooer]("dep")
	_, err := conn.Target()
	assert.ErrorIs(t, err, ErrConnectorUnbound)
}
