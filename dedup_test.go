package chatsync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupStore(t *testing.T) {
	t.Run("second add reports duplicate", func(t *testing.T) {
		d := NewDedupStore(10, nil)
		assert.True(t, d.Add("m1"))
		assert.False(t, d.Add("m1"))
		assert.Equal(t, 1, d.Len())
	})

	t.Run("bounded with oldest evicted first", func(t *testing.T) {
		var evicted []string
		d := NewDedupStore(1000, func(id string) { evicted = append(evicted, id) })
		for i := 0; i < 1001; i++ {
			require.True(t, d.Add(fmt.Sprintf("m%d", i)))
		}

		assert.Equal(t, 1000, d.Len())
		assert.Equal(t, []string{"m0"}, evicted)
		assert.False(t, d.Seen("m0"))
		assert.True(t, d.Seen("m1"))
		assert.True(t, d.Seen("m1000"))

		oldest, ok := d.Oldest()
		require.True(t, ok)
		assert.Equal(t, "m1", oldest)
	})

	t.Run("duplicate does not refresh position", func(t *testing.T) {
		d := NewDedupStore(2, nil)
		d.Add("a")
		d.Add("b")
		d.Add("a")
		d.Add("c")

		assert.False(t, d.Seen("a"))
		assert.True(t, d.Seen("b"))
		assert.True(t, d.Seen("c"))
	})

	t.Run("non-positive capacity uses default", func(t *testing.T) {
		d := NewDedupStore(0, nil)
		for i := 0; i < DefaultDedupCapacity+5; i++ {
			d.Add(fmt.Sprintf("m%d", i))
		}
		assert.Equal(t, DefaultDedupCapacity, d.Len())
	})
}
