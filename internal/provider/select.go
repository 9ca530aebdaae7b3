package provider

import (
	"areacast/internal/channel"
	"areacast/internal/config"
	"areacast/pkg/logx"
)

// Backend names reported in responses and metrics labels.
const (
	BackendTwilio = "twilio"
	BackendCloud  = "cloud_api"
)

// Pick names the backend a channel would use: the WhatsApp Cloud API when
// the channel is whatsapp and the direct backend is configured, Twilio
// otherwise. The second return reports whether the chosen backend takes
// bare phone numbers for whatsapp (native format, no address marker).
//
// Pick never fails; it is safe to call for estimates before any
// credentials have been checked.
func Pick(cfg *config.Config, ch channel.Channel) (string, bool) {
	if ch == channel.WhatsApp && cfg.WhatsAppCloud.Configured() {
		return BackendCloud, true
	}
	return BackendTwilio, false
}

// ForChannel constructs the sender Pick selected. Unlike Pick this can
// fail: a backend without usable credentials or sender identity is a
// request-level error, surfaced before any send is attempted.
func ForChannel(cfg *config.Config, ch channel.Channel, log logx.Logger) (Sender, bool, error) {
	backend, native := Pick(cfg, ch)
	if backend == BackendCloud {
		s, err := NewWhatsAppCloud(cfg.WhatsAppCloud, log)
		if err != nil {
			return nil, false, err
		}
		return s, native, nil
	}
	s, err := NewTwilio(cfg.Twilio, ch, log)
	if err != nil {
		return nil, false, err
	}
	return s, native, nil
}
