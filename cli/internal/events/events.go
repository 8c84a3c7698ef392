// Package events follows the pipeline's Impact Card notifications on the
// message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/impactwatch/impactwatch/common/audit"
	"github.com/impactwatch/impactwatch/common/messaging"
)

// ErrBadSignature is returned for events whose signature does not verify.
var ErrBadSignature = errors.New("card event signature mismatch")

// CardEvent mirrors the pipeline's card notification. Field order matters:
// the signature covers this encoding with Signature empty.
type CardEvent struct {
	CardID    string    `json:"card_id" yaml:"card_id"`
	WatchID   string    `json:"watch_id" yaml:"watch_id"`
	Action    string    `json:"action" yaml:"action"`
	RiskLevel string    `json:"risk_level" yaml:"risk_level"`
	Status    string    `json:"status" yaml:"status"`
	At        time.Time `json:"at" yaml:"at"`
	Signature string    `json:"signature,omitempty" yaml:"signature,omitempty"`

	Subject  string `json:"-" yaml:"subject"`
	Verified bool   `json:"-" yaml:"verified"`
}

// Options configures Follow.
type Options struct {
	// Queue joins a queue group so several followers share the stream.
	Queue string
	// Verifier checks signatures; unsigned or mismatched events are
	// rejected when set.
	Verifier *audit.EventSigner
}

// Decode parses a notification and verifies it when v is non-nil.
func Decode(subject string, data []byte, v *audit.EventSigner) (CardEvent, error) {
	var ev CardEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return CardEvent{}, fmt.Errorf("decode card event: %w", err)
	}
	ev.Subject = subject
	if v == nil {
		return ev, nil
	}

	sig := ev.Signature
	unsigned := ev
	unsigned.Signature = ""
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return CardEvent{}, fmt.Errorf("encode card event: %w", err)
	}
	if sig == "" || !v.Verify(ev.CardID, ev.At, payload, sig) {
		return CardEvent{}, fmt.Errorf("card %s: %w", ev.CardID, ErrBadSignature)
	}
	ev.Verified = true
	return ev, nil
}

// Follow delivers card events to fn until ctx is done. Events that fail to
// decode or verify are passed to onErr when it is non-nil.
func Follow(ctx context.Context, sub messaging.Subscriber, opts Options, fn func(CardEvent), onErr func(error)) error {
	handler := func(_ context.Context, msg *messaging.Message) error {
		ev, err := Decode(msg.Subject, msg.Data, opts.Verifier)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return nil
		}
		fn(ev)
		return nil
	}

	var (
		s   messaging.Subscription
		err error
	)
	if opts.Queue != "" {
		s, err = sub.QueueSubscribe(messaging.SubjectCardsAll, opts.Queue, handler)
	} else {
		s, err = sub.Subscribe(messaging.SubjectCardsAll, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", messaging.SubjectCardsAll, err)
	}
	defer s.Unsubscribe()

	<-ctx.Done()
	return nil
}
