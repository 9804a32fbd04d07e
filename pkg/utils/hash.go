package utils

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashJSON hashes the JSON encoding of v. Maps encode with sorted keys, so
// the result does not depend on insertion order.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal for hashing: %w", err)
	}
	return fmt.Sprintf("%x", md5.Sum(data)), nil
}

// EmbeddingKey is the cache key for one text under one embedding model.
func EmbeddingKey(model, text string) string {
	return model + ":" + HashString(text)
}
