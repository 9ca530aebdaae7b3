// Package channel models the message transport choice and the mapping
// from a raw phone number to a backend-specific address.
package channel

import (
	"fmt"
	"strings"
)

type Channel string

const (
	SMS      Channel = "sms"
	WhatsApp Channel = "whatsapp"
)

// Parse normalizes and validates a channel name.
func Parse(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case SMS:
		return SMS, nil
	case WhatsApp:
		return WhatsApp, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Resolve maps a raw phone number to the address the active backend
// expects. WhatsApp numbers get a "whatsapp:" marker unless the backend
// takes bare E.164 numbers natively; SMS numbers pass through trimmed.
//
// No phone syntax validation happens here; malformed input passes through
// unchanged and fails (per recipient) at the provider.
func Resolve(raw string, ch Channel, nativeWhatsApp bool) string {
	raw = strings.TrimSpace(raw)
	if ch != WhatsApp || nativeWhatsApp {
		return raw
	}
	if strings.HasPrefix(raw, "whatsapp:") {
		return raw
	}
	return "whatsapp:" + raw
}
