package forms

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const shareCodeLength = 12

// CodeSource generates share codes and status tokens from an injected
// random stream, so tests can seed determinism without global state.
type CodeSource struct {
	reader io.Reader
}

// NewCodeSource constructs a source; a nil reader defaults to crypto/rand.
func NewCodeSource(reader io.Reader) *CodeSource {
	if reader == nil {
		reader = rand.Reader
	}
	return &CodeSource{reader: reader}
}

// ShareCode returns a 12-character alphanumeric code.
func (s *CodeSource) ShareCode() (string, error) {
	buf := make([]byte, shareCodeLength)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return "", fmt.Errorf("share code: %w", err)
	}

	code := make([]byte, shareCodeLength)
	for i, b := range buf {
		code[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(code), nil
}

// StatusToken returns an opaque URL-safe token for workflow status lookups.
func (s *CodeSource) StatusToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return "", fmt.Errorf("status token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
