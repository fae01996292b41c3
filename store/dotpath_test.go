package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPick(t *testing.T) {
	m := map[string]any{
		"session": map[string]any{
			"name": "Ada",
			"prefs": map[string]any{
				"lang": "en",
			},
		},
		"count": 0,
	}

	v, ok := Pick(m, "session.name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = Pick(m, "session.prefs.lang")
	assert.True(t, ok)
	assert.Equal(t, "en", v)

	v, ok = Pick(m, "count")
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	_, ok = Pick(m, "session.missing")
	assert.False(t, ok)

	// A scalar in the middle of the path stops the walk.
	_, ok = Pick(m, "session.name.deeper")
	assert.False(t, ok)

	_, ok = Pick(m, "")
	assert.False(t, ok)
}

func TestAssign(t *testing.T) {
	m := map[string]any{}

	Assign(m, "session.name", "Ada")
	Assign(m, "session.prefs.lang", "en")

	v, ok := Pick(m, "session.name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = Pick(m, "session.prefs.lang")
	assert.True(t, ok)
	assert.Equal(t, "en", v)
}

func TestAssignReplacesScalarIntermediate(t *testing.T) {
	m := map[string]any{"session": "not-a-map"}

	Assign(m, "session.name", "Ada")

	v, ok := Pick(m, "session.name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(int64(0)))
	assert.False(t, Truthy(0.0))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy(0.5))
	assert.True(t, Truthy([]any{}))
	assert.True(t, Truthy(map[string]any{}))
}
