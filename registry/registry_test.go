package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKey(t *testing.T) {
	t.Parallel()
	token, id, ok := ParseKey("/resource/nodes/3b8a4dd2")
	assert.True(t, ok)
	assert.Equal(t, "nodes", token)
	assert.Equal(t, "3b8a4dd2", id)

	token, id, ok = ParseKey("resource/flows/f1/")
	assert.True(t, ok)
	assert.Equal(t, "flows", token)
	assert.Equal(t, "f1", id)

	for _, bad := range []string{
		"",
		"/",
		"/resource",
		"/resource/nodes",
		"/other/nodes/id",
		"/resource/nodes/id/extra",
	} {
		_, _, ok = ParseKey(bad)
		assert.Falsef(t, ok, "ParseKey(%q) should fail", bad)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/resource/nodes/n1", Key("nodes", "n1"))
	token, id, ok := ParseKey(Key("senders", "s1"))
	assert.True(t, ok)
	assert.Equal(t, "senders", token)
	assert.Equal(t, "s1", id)
}
