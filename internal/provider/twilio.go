package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"areacast/internal/channel"
	"areacast/internal/config"
	"areacast/pkg/logx"
)

const twilioTimeout = 20 * time.Second

// Twilio is the bulk-messaging adapter. When a messaging service SID is
// configured all sends route through it; otherwise the channel-specific
// From identity chosen at construction time is used.
type Twilio struct {
	accountSID string
	authToken  string
	msid       string
	from       string
	baseURL    string

	http *http.Client
	log  logx.Logger
}

func NewTwilio(cfg config.TwilioConfig, ch channel.Channel, log logx.Logger) (*Twilio, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio credentials missing")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	from := ""
	if strings.TrimSpace(cfg.MessagingServiceSID) == "" {
		switch ch {
		case channel.WhatsApp:
			from = strings.TrimSpace(cfg.FromWhatsApp)
		default:
			from = strings.TrimSpace(cfg.FromSMS)
		}
		if from == "" {
			return nil, fmt.Errorf("%w: no messaging service sid and no from identity for channel %s", ErrMissingSender, ch)
		}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = config.DefaultTwilioBaseURL
	}

	return &Twilio{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		msid:       strings.TrimSpace(cfg.MessagingServiceSID),
		from:       from,
		baseURL:    base,
		http:       &http.Client{Timeout: twilioTimeout},
		log:        log,
	}, nil
}

func (t *Twilio) Name() string { return BackendTwilio }

func (t *Twilio) Send(ctx context.Context, to, message string) Result {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", message)
	if t.msid != "" {
		form.Set("MessagingServiceSid", t.msid)
	} else {
		form.Set("From", t.from)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{To: to, OK: false, Info: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.http.Do(req)
	if err != nil {
		return Result{To: to, OK: false, Info: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return Result{To: to, OK: false, Info: fmt.Sprintf("%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.SID == "" {
		// Accepted by the provider but no sid in the payload.
		return Result{To: to, OK: true, Info: "ok"}
	}
	return Result{To: to, OK: true, Info: out.SID}
}
