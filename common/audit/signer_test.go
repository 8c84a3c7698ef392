package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventSigner_Sign(t *testing.T) {
	signer := NewEventSigner("test-secret")
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	data := []byte(`{"card_id":"card-1","risk_level":"High"}`)

	sig := signer.Sign("card-1", at, data)

	assert.Len(t, sig, 64)
	assert.Equal(t, sig, signer.Sign("card-1", at, data))
	assert.NotEqual(t, sig, signer.Sign("card-2", at, data))
	assert.NotEqual(t, sig, NewEventSigner("other-secret").Sign("card-1", at, data))
}

func TestEventSigner_SignNormalizesTimezone(t *testing.T) {
	signer := NewEventSigner("test-secret")
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	berlin := at.In(time.FixedZone("CET", 3600))

	assert.Equal(t, signer.Sign("card-1", at, nil), signer.Sign("card-1", berlin, nil))
}

func TestEventSigner_Verify(t *testing.T) {
	signer := NewEventSigner("test-secret")
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	data := []byte(`{"action":"created"}`)
	sig := signer.Sign("card-1", at, data)

	tests := []struct {
		name string
		id   string
		at   time.Time
		data []byte
		sig  string
		want bool
	}{
		{"valid", "card-1", at, data, sig, true},
		{"wrong id", "card-2", at, data, sig, false},
		{"wrong time", "card-1", at.Add(time.Nanosecond), data, sig, false},
		{"tampered data", "card-1", at, []byte(`{"action":"archived"}`), sig, false},
		{"empty signature", "card-1", at, data, "", false},
		{"truncated signature", "card-1", at, data, sig[:32], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signer.Verify(tt.id, tt.at, tt.data, tt.sig))
		})
	}
}
