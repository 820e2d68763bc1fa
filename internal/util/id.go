package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a fresh opaque identifier, optionally namespaced by prefix.
func NewID(prefix string) string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when crypto/rand does.
		panic("generate id: " + err.Error())
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
