package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"areacast/internal/config"
	"areacast/pkg/logx"
)

const cloudTimeout = 20 * time.Second

// WhatsAppCloud is the direct conversational adapter: a synchronous POST
// per message against the Cloud API messages endpoint.
type WhatsAppCloud struct {
	token   string
	phoneID string
	version string
	baseURL string

	http *http.Client
	log  logx.Logger
}

func NewWhatsAppCloud(cfg config.WhatsAppCloudConfig, log logx.Logger) (*WhatsAppCloud, error) {
	if !cfg.Configured() {
		return nil, errors.New("whatsapp cloud token/phone id missing")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = config.DefaultWCAPIVersion
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = config.DefaultWCBaseURL
	}
	return &WhatsAppCloud{
		token:   cfg.Token,
		phoneID: cfg.PhoneID,
		version: version,
		baseURL: base,
		http:    &http.Client{Timeout: cloudTimeout},
		log:     log,
	}, nil
}

func (w *WhatsAppCloud) Name() string { return BackendCloud }

type cloudText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type cloudPayload struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             cloudText `json:"text"`
}

func (w *WhatsAppCloud) Send(ctx context.Context, to, message string) Result {
	payload := cloudPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             cloudText{PreviewURL: false, Body: message},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{To: to, OK: false, Info: err.Error()}
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", w.baseURL, w.version, w.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return Result{To: to, OK: false, Info: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return Result{To: to, OK: false, Info: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{To: to, OK: false, Info: fmt.Sprintf("%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err == nil && len(out.Messages) > 0 && out.Messages[0].ID != "" {
		return Result{To: to, OK: true, Info: out.Messages[0].ID}
	}
	return Result{To: to, OK: true, Info: "ok"}
}
