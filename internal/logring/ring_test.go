package logring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsNewest(t *testing.T) {
	r := New(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Snapshot())
}

func TestRingPartial(t *testing.T) {
	r := New(4)
	r.Append("a")
	r.Append("b")
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestRingClear(t *testing.T) {
	r := New(2)
	r.Append("a")
	r.Append("b")
	r.Append("c")
	r.Clear()
	assert.Empty(t, r.Snapshot())
	r.Append("d")
	assert.Equal(t, []string{"d"}, r.Snapshot())
}

func TestRingDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Cap())
}
