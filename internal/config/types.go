package config

type Config struct {
	// Listen is the HTTP bind address, e.g. ":8501".
	Listen string `json:"listen,omitempty"`

	// ContactsCSV is the contact directory source. It is re-read on every
	// request; there is no caching layer to invalidate.
	ContactsCSV string `json:"contacts_csv,omitempty"`

	// CORSOrigins lists allowed browser origins. Empty means "*".
	CORSOrigins []string `json:"cors_origins,omitempty"`

	Logging       LoggingConfig       `json:"logging"`
	Twilio        TwilioConfig        `json:"twilio"`
	WhatsAppCloud WhatsAppCloudConfig `json:"whatsapp_cloud"`
	Pricing       PricingConfig       `json:"pricing"`
	Dispatch      DispatchConfig      `json:"dispatch"`
	Audit         AuditConfig         `json:"audit"`
	Events        *EventsConfig       `json:"events,omitempty"`
	Notify        *NotifyConfig       `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TwilioConfig holds the bulk-messaging backend credentials.
//
// If MessagingServiceSID is set, all sends route through the messaging
// service; otherwise a channel-specific From identity is required.
type TwilioConfig struct {
	AccountSID          string `json:"account_sid"`
	AuthToken           string `json:"auth_token,omitempty"`
	MessagingServiceSID string `json:"messaging_service_sid,omitempty"`
	FromSMS             string `json:"from_sms,omitempty"`
	FromWhatsApp        string `json:"from_whatsapp,omitempty"`

	// BaseURL is overridable for tests; default "https://api.twilio.com".
	BaseURL string `json:"base_url,omitempty"`
}

// WhatsAppCloudConfig holds the direct conversational backend credentials.
// The backend is considered configured when both Token and PhoneID are set.
type WhatsAppCloudConfig struct {
	Token      string `json:"token,omitempty"`
	PhoneID    string `json:"phone_id,omitempty"`
	APIVersion string `json:"api_version,omitempty"`

	// BaseURL is overridable for tests; default "https://graph.facebook.com".
	BaseURL string `json:"base_url,omitempty"`
}

func (c WhatsAppCloudConfig) Configured() bool {
	return c.Token != "" && c.PhoneID != ""
}

// PricingConfig is the process-wide pricing table. Loaded once at startup,
// read-only thereafter.
type PricingConfig struct {
	Currency        string  `json:"currency,omitempty"`
	DefaultCategory string  `json:"default_category,omitempty"`
	Service         float64 `json:"service,omitempty"`
	Utility         float64 `json:"utility,omitempty"`
	Marketing       float64 `json:"marketing,omitempty"`
}

// DispatchConfig controls the send worker pool.
//
// PaceBulk/PaceCloud are Go duration strings (e.g. "30ms"): the minimum
// spacing between completed sends, per backend. They smooth provider
// bursts; they are not a correctness knob.
type DispatchConfig struct {
	Workers   int    `json:"workers,omitempty"`
	PaceBulk  string `json:"pace_bulk,omitempty"`
	PaceCloud string `json:"pace_cloud,omitempty"`
}

// AuditConfig controls the append-only send log.
//
// Driver values:
//   - "csv": delimited file, header written once on creation
//   - "sqlite": SQLite database file
//
// Retention is a Go duration string; records older than it are deleted by
// the prune job. Empty retention or schedule disables pruning.
type AuditConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// EventsConfig controls the optional RabbitMQ blast-event publisher.
type EventsConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// NotifyConfig controls the optional operator Telegram notification.
type NotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}
