// Package audit signs outbound events so consumers can detect tampering.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type EventSigner struct {
	secretKey []byte
}

func NewEventSigner(secretKey string) *EventSigner {
	return &EventSigner{
		secretKey: []byte(secretKey),
	}
}

// Sign returns the hex HMAC-SHA256 of id, timestamp and data.
func (s *EventSigner) Sign(id string, timestamp time.Time, data []byte) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(id))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *EventSigner) Verify(id string, timestamp time.Time, data []byte, signature string) bool {
	expected := s.Sign(id, timestamp, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
