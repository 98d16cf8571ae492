// Package whatsapp adapts the whatsmeow multidevice client to the small
// port the bridge needs: initialize, destroy, send a text, and a stream of
// lifecycle signals.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	ErrNotInitialized   = errors.New("whatsapp client is not initialized")
	ErrNotLoggedIn      = errors.New("whatsapp client is not logged in")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Client is the automated messaging session owned by the bridge.
type Client interface {
	// Initialize connects the session, starting the QR pairing flow when
	// no device is stored yet. Lifecycle changes arrive as signals.
	Initialize(ctx context.Context) error
	// Destroy drops the live connection. The stored login survives.
	Destroy(ctx context.Context) error
	// SendMessage delivers a plain text message to a recipient given as
	// digits, "<digits>@c.us" or a full JID.
	SendMessage(ctx context.Context, to, text string) error
}

// ParseRecipient normalizes the recipient formats accepted by SendMessage.
func ParseRecipient(raw string) (types.JID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return types.JID{}, fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}

	// whatsapp-web style addresses use the legacy user server.
	if user, ok := strings.CutSuffix(s, "@"+types.LegacyUserServer); ok {
		s = user
	}

	if strings.Contains(s, "@") {
		jid, err := types.ParseJID(s)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		if jid.User == "" {
			return types.JID{}, fmt.Errorf("%w: %q has no user part", ErrInvalidRecipient, raw)
		}
		return jid, nil
	}

	digits := strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-', '(', ')':
			return -1
		}
		return r
	}, s)
	if len(digits) < 5 || len(digits) > 20 {
		return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
		}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
