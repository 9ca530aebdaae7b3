package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by Load when fields are omitted.
const (
	DefaultListen          = ":8501"
	DefaultContactsCSV     = "./data/customers.csv"
	DefaultWorkers         = 8
	DefaultPaceBulk        = "30ms"
	DefaultPaceCloud       = "20ms"
	DefaultAuditDriver     = "csv"
	DefaultAuditPath       = "./logs/sends.csv"
	DefaultCurrency        = "INR"
	DefaultPricingCategory = "utility"
	DefaultWCAPIVersion    = "v22.0"
	DefaultTwilioBaseURL   = "https://api.twilio.com"
	DefaultWCBaseURL       = "https://graph.facebook.com"
)

var knownCategories = []string{"service", "utility", "marketing"}

// Load reads, decodes, and validates the config file once. The result is
// immutable for the life of the process; there is no reload path.
//
// Secrets and deployment-specific values may be overridden from the
// environment after the file decode (see applyEnv).
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values from the environment. Only secrets and
// deployment-specific knobs are overridable; structural settings stay in
// the file.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setStr(&c.ContactsCSV, "CONTACTS_CSV")
	setStr(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setStr(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setStr(&c.Twilio.MessagingServiceSID, "TWILIO_MESSAGING_SERVICE_SID")
	setStr(&c.Twilio.FromSMS, "TWILIO_FROM_SMS")
	setStr(&c.Twilio.FromWhatsApp, "TWILIO_FROM_WHATSAPP")
	setStr(&c.WhatsAppCloud.Token, "WHATSAPP_CLOUD_TOKEN")
	setStr(&c.WhatsAppCloud.PhoneID, "WHATSAPP_CLOUD_PHONE_ID")
	setStr(&c.WhatsAppCloud.APIVersion, "WHATSAPP_CLOUD_API_VERSION")

	if v, ok := os.LookupEnv("AMQP_URL"); ok && strings.TrimSpace(v) != "" {
		if c.Events == nil {
			c.Events = &EventsConfig{Enabled: true}
		}
		c.Events.URL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("TELEGRAM_TOKEN"); ok && strings.TrimSpace(v) != "" {
		if c.Notify == nil {
			c.Notify = &NotifyConfig{Enabled: true}
		}
		c.Notify.Token = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("TELEGRAM_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && c.Notify != nil {
			c.Notify.ChatID = id
		}
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.ContactsCSV) == "" {
		c.ContactsCSV = DefaultContactsCSV
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = DefaultWorkers
	}
	if strings.TrimSpace(c.Dispatch.PaceBulk) == "" {
		c.Dispatch.PaceBulk = DefaultPaceBulk
	}
	if strings.TrimSpace(c.Dispatch.PaceCloud) == "" {
		c.Dispatch.PaceCloud = DefaultPaceCloud
	}
	if strings.TrimSpace(c.Audit.Driver) == "" {
		c.Audit.Driver = DefaultAuditDriver
	}
	if strings.TrimSpace(c.Audit.Path) == "" {
		c.Audit.Path = DefaultAuditPath
	}
	if strings.TrimSpace(c.Pricing.Currency) == "" {
		c.Pricing.Currency = DefaultCurrency
	}
	if strings.TrimSpace(c.Pricing.DefaultCategory) == "" {
		c.Pricing.DefaultCategory = DefaultPricingCategory
	}
	c.Pricing.DefaultCategory = strings.ToLower(strings.TrimSpace(c.Pricing.DefaultCategory))
	if strings.TrimSpace(c.WhatsAppCloud.APIVersion) == "" {
		c.WhatsAppCloud.APIVersion = DefaultWCAPIVersion
	}
	if strings.TrimSpace(c.Twilio.BaseURL) == "" {
		c.Twilio.BaseURL = DefaultTwilioBaseURL
	}
	if strings.TrimSpace(c.WhatsAppCloud.BaseURL) == "" {
		c.WhatsAppCloud.BaseURL = DefaultWCBaseURL
	}
}

func (c *Config) validate() error {
	ok := false
	for _, k := range knownCategories {
		if c.Pricing.DefaultCategory == k {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("pricing.default_category: unknown category %q", c.Pricing.DefaultCategory)
	}

	if _, err := ParseDurationField("dispatch.pace_bulk", c.Dispatch.PaceBulk); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.pace_cloud", c.Dispatch.PaceCloud); err != nil {
		return err
	}
	if _, err := ParseDurationField("audit.retention", c.Audit.Retention); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
	case "csv", "sqlite", "none":
	default:
		return fmt.Errorf("audit.driver: unknown driver %q", c.Audit.Driver)
	}

	if c.Events != nil && c.Events.Enabled {
		if strings.TrimSpace(c.Events.URL) == "" || strings.TrimSpace(c.Events.Exchange) == "" {
			return fmt.Errorf("events: url and exchange are required when enabled")
		}
	}
	if c.Notify != nil && c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.Token) == "" || c.Notify.ChatID == 0 {
			return fmt.Errorf("notify: token and chat_id are required when enabled")
		}
	}
	return nil
}

// BulkPace returns the parsed bulk-backend pacing interval. Load has
// already validated the duration string.
func (c *Config) BulkPace() time.Duration { return mustDuration(c.Dispatch.PaceBulk) }

// CloudPace returns the parsed direct-backend pacing interval.
func (c *Config) CloudPace() time.Duration { return mustDuration(c.Dispatch.PaceCloud) }

// RetentionWindow returns the parsed audit retention, 0 when disabled.
func (c *Config) RetentionWindow() time.Duration { return mustDuration(c.Audit.Retention) }

func mustDuration(raw string) time.Duration {
	d, _ := ParseDurationField("", raw)
	return d
}
