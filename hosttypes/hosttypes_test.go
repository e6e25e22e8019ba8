package hosttypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvocationCloneDeepCopiesArgsAndEnv(t *testing.T) {
	orig := Invocation{Command: "node", Args: []string{"index.js"}, Env: map[string]string{"A": "1"}}
	clone := orig.Clone()

	clone.Args[0] = "mutated.js"
	clone.Env["A"] = "mutated"

	assert.Equal(t, "index.js", orig.Args[0])
	assert.Equal(t, "1", orig.Env["A"])
}

func TestServerRecordCloneDeepCopiesMetadataAndTags(t *testing.T) {
	orig := ServerRecord{
		ID:       "widget",
		Tags:     []string{"a", "b"},
		Metadata: ServerMetadata{Extra: map[string]interface{}{"k": "v"}},
	}
	clone := orig.Clone()

	clone.Tags[0] = "mutated"
	clone.Metadata.Extra["k"] = "mutated"

	assert.Equal(t, "a", orig.Tags[0])
	assert.Equal(t, "v", orig.Metadata.Extra["k"])
}

func TestServerRecordCloneHandlesNilTagsAndExtra(t *testing.T) {
	orig := ServerRecord{ID: "widget"}
	clone := orig.Clone()
	assert.Nil(t, clone.Tags)
	assert.Nil(t, clone.Metadata.Extra)
}

func TestServerStatusCloneDeepCopiesCapabilities(t *testing.T) {
	orig := ServerStatus{State: StateRunning, VersionCapabilities: VersionCapabilities{"tools": true}}
	clone := orig.Clone()

	clone.VersionCapabilities["tools"] = false

	assert.True(t, orig.VersionCapabilities["tools"])
	assert.False(t, clone.VersionCapabilities["tools"])
}
