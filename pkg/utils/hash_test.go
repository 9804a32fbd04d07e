package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", HashString(""))
	assert.Len(t, HashString("The system must allow login"), 32)
}

func TestHashJSONIsOrderIndependent(t *testing.T) {
	a := map[string][]string{"Functional": {"a"}, "Business": {"b"}}
	b := map[string][]string{"Business": {"b"}, "Functional": {"a"}}

	ha, err := HashJSON(a)
	require.NoError(t, err)
	hb, err := HashJSON(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestHashJSONRejectsUnsupported(t *testing.T) {
	_, err := HashJSON(func() {})
	assert.Error(t, err)
}

func TestEmbeddingKey(t *testing.T) {
	k1 := EmbeddingKey("all-MiniLM-L12-v2", "login")
	k2 := EmbeddingKey("text-embedding-3-small", "login")

	assert.NotEqual(t, k1, k2)
	assert.Contains(t, k1, "all-MiniLM-L12-v2:")
}
