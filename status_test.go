package qudicore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusDefaultRoundTripsThroughMarshalUnmarshal(t *testing.T) {
	s := NewStatus("count", 0)
	s.Set(7)

	raw, err := s.marshalRaw()
	require.NoError(t, err)

	loaded := NewStatus("count", 0)
	require.NoError(t, loaded.unmarshalRaw(raw))
	assert.Equal(t, 7, loaded.Value())
}

type point struct {
	X, Y int
}

func TestStatusRepresenterAndConstructorRoundTrip(t *testing.T) {
	s := NewStatus("origin", point{},
		WithRepresenter(func(p point) (any, error) {
			return []int{p.X, p.Y}, nil
		}),
		WithStatusConstructor(func(raw any) (point, error) {
			pair, err := remarshalYAML[[]int](raw)
			if err != nil {
				return point{}, err
			}
			return point{X: pair[0], Y: pair[1]}, nil
		}),
	)
	s.Set(point{X: 3, Y: 4})

	raw, err := s.marshalRaw()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, raw)

	loaded := NewStatus("origin", point{},
		WithStatusConstructor(func(raw any) (point, error) {
			pair, err := remarshalYAML[[]int](raw)
			if err != nil {
				return point{}, err
			}
			return point{X: pair[0], Y: pair[1]}, nil
		}),
	)
	require.NoError(t, loaded.unmarshalRaw(raw))
	assert.Equal(t, point{X: 3, Y: 4}, loaded.Value())
}
