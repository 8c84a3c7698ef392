package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/audit"
	"github.com/impactwatch/impactwatch/common/messaging"
)

type fakeSubscription struct {
	subject      string
	unsubscribed bool
}

func (s *fakeSubscription) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

func (s *fakeSubscription) Subject() string { return s.subject }
func (s *fakeSubscription) IsValid() bool   { return !s.unsubscribed }

// fakeSubscriber records the subscription and exposes its handler.
type fakeSubscriber struct {
	mu      sync.Mutex
	subject string
	queue   string
	handler messaging.MessageHandler
	sub     *fakeSubscription
	ready   chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ready: make(chan struct{})}
}

func (f *fakeSubscriber) Subscribe(subject string, h messaging.MessageHandler) (messaging.Subscription, error) {
	return f.QueueSubscribe(subject, "", h)
}

func (f *fakeSubscriber) QueueSubscribe(subject, queue string, h messaging.MessageHandler) (messaging.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject, f.queue, f.handler = subject, queue, h
	f.sub = &fakeSubscription{subject: subject}
	close(f.ready)
	return f.sub, nil
}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) deliver(t *testing.T, subject string, data []byte) {
	t.Helper()
	<-f.ready
	require.NoError(t, f.handler(context.Background(), &messaging.Message{Subject: subject, Data: data}))
}

var at = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func signed(t *testing.T, signer *audit.EventSigner, ev CardEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	ev.Signature = signer.Sign(ev.CardID, ev.At, payload)
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestDecode_WireShape(t *testing.T) {
	data := []byte(`{"card_id":"card-1","watch_id":"acme","action":"created","risk_level":"High","status":"Open","at":"2026-05-04T10:00:00Z"}`)

	ev, err := Decode(messaging.SubjectCardsCreated, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "card-1", ev.CardID)
	assert.Equal(t, "High", ev.RiskLevel)
	assert.True(t, at.Equal(ev.At))
	assert.Equal(t, messaging.SubjectCardsCreated, ev.Subject)
	assert.False(t, ev.Verified)

	reencoded, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(reencoded))
}

func TestDecode_Signatures(t *testing.T) {
	signer := audit.NewEventSigner("card-secret")
	ev := CardEvent{CardID: "card-1", WatchID: "acme", Action: "created", RiskLevel: "High", Status: "Open", At: at}

	got, err := Decode(messaging.SubjectCardsCreated, signed(t, signer, ev), signer)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	_, err = Decode(messaging.SubjectCardsCreated, signed(t, audit.NewEventSigner("other"), ev), signer)
	assert.ErrorIs(t, err, ErrBadSignature)

	unsigned, err := json.Marshal(ev)
	require.NoError(t, err)
	_, err = Decode(messaging.SubjectCardsCreated, unsigned, signer)
	assert.ErrorIs(t, err, ErrBadSignature)

	var tampered CardEvent
	require.NoError(t, json.Unmarshal(signed(t, signer, ev), &tampered))
	tampered.RiskLevel = "Low"
	data, err := json.Marshal(tampered)
	require.NoError(t, err)
	_, err = Decode(messaging.SubjectCardsCreated, data, signer)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = Decode(messaging.SubjectCardsCreated, []byte("not json"), nil)
	assert.Error(t, err)
}

func TestFollow(t *testing.T) {
	tests := []struct {
		name  string
		queue string
	}{
		{name: "fan out", queue: ""},
		{name: "queue group", queue: "notifiers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := audit.NewEventSigner("card-secret")
			sub := newFakeSubscriber()
			ctx, cancel := context.WithCancel(context.Background())

			var mu sync.Mutex
			var got []CardEvent
			var errs []error
			record := func(ev CardEvent) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, ev)
			}
			fail := func(err error) {
				mu.Lock()
				defer mu.Unlock()
				errs = append(errs, err)
			}

			done := make(chan error, 1)
			go func() {
				done <- Follow(ctx, sub, Options{Queue: tt.queue, Verifier: signer}, record, fail)
			}()

			ev := CardEvent{CardID: "card-1", WatchID: "acme", Action: "refreshed", RiskLevel: "Medium", Status: "Open", At: at}
			sub.deliver(t, messaging.SubjectCardsUpdated, signed(t, signer, ev))
			sub.deliver(t, messaging.SubjectCardsUpdated, signed(t, audit.NewEventSigner("forged"), ev))

			cancel()
			require.NoError(t, <-done)

			assert.Equal(t, messaging.SubjectCardsAll, sub.subject)
			assert.Equal(t, tt.queue, sub.queue)
			assert.True(t, sub.sub.unsubscribed)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, got, 1)
			assert.Equal(t, "card-1", got[0].CardID)
			assert.Equal(t, messaging.SubjectCardsUpdated, got[0].Subject)
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], ErrBadSignature)
		})
	}
}
