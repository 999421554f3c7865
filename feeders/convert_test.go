package feeders

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertString(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		v, err := convertString("2h30m", durationType)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Hour+30*time.Minute, v)

		_, err = convertString("forever", durationType)
		require.Error(t, err)
	})

	t.Run("pointer", func(t *testing.T) {
		v, err := convertString("42", reflect.TypeOf((*int)(nil)))
		require.NoError(t, err)
		p, ok := v.(*int)
		require.True(t, ok)
		assert.Equal(t, 42, *p)
	})

	t.Run("string slice splits on commas", func(t *testing.T) {
		v, err := convertString("a, b,c ", reflect.TypeOf([]string{}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, v)
	})

	t.Run("scalars", func(t *testing.T) {
		v, err := convertString("true", reflect.TypeOf(false))
		require.NoError(t, err)
		assert.Equal(t, true, v)

		v, err = convertString("3.5", reflect.TypeOf(float64(0)))
		require.NoError(t, err)
		assert.Equal(t, 3.5, v)

		v, err = convertString("-7", reflect.TypeOf(int(0)))
		require.NoError(t, err)
		assert.Equal(t, -7, v)
	})

	t.Run("unconvertible", func(t *testing.T) {
		_, err := convertString("oops", reflect.TypeOf(int(0)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot convert")
	})
}
