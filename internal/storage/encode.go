// Package storage holds what the artifact sink backends share: payload encoding and
// content types.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Content types of stored artifacts.
const (
	ContentTypeJSON     = "application/json; charset=utf-8"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
)

// Encode renders payload for storage. Byte slices are written verbatim; anything else
// becomes JSON indented with four spaces and without HTML escaping, so non-ASCII text
// survives as-is.
func Encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ContentType guesses the content type of an artifact from its key.
func ContentType(key string) string {
	if strings.HasSuffix(key, ".md") {
		return ContentTypeMarkdown
	}
	return ContentTypeJSON
}
