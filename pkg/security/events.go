package security

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"election_ledger/pkg/event"
)

var ErrInvalidSignature = errors.New("invalid event signature")

// VerifyEvent checks the signature of a single event
func VerifyEvent(e event.Event, publicKey ed25519.PublicKey) error {
	if len(e.Signature) == 0 {
		return fmt.Errorf("%w: event %d is unsigned", ErrInvalidSignature, e.Seq)
	}
	data, err := e.SigningBytes()
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", e.Seq, err)
	}
	if !ed25519.Verify(publicKey, data, e.Signature) {
		return fmt.Errorf("%w: event %d", ErrInvalidSignature, e.Seq)
	}
	return nil
}

// VerifyEvents checks every signature and that sequences strictly increase
func VerifyEvents(events []event.Event, publicKey ed25519.PublicKey) error {
	var last uint64
	for _, e := range events {
		if e.Seq <= last {
			return fmt.Errorf("event %d follows %d: sequence not increasing", e.Seq, last)
		}
		if err := VerifyEvent(e, publicKey); err != nil {
			return err
		}
		last = e.Seq
	}
	return nil
}
