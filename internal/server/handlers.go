package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"areacast/internal/audit"
	"areacast/internal/channel"
	"areacast/internal/directory"
	"areacast/internal/dispatch"
	"areacast/internal/events"
	"areacast/internal/notify"
	"areacast/internal/provider"
	"areacast/pkg/logx"
)

const (
	previewLen   = 160
	sampleLen    = 10
	publishGrace = 5 * time.Second
)

type sendRequest struct {
	Area            string `json:"area" validate:"required"`
	Channel         string `json:"channel"`
	Message         string `json:"message" validate:"required"`
	DryRun          bool   `json:"dry_run"`
	MsgType         string `json:"msg_type"`
	ETAStart        string `json:"eta_start"`
	ETAEnd          string `json:"eta_end"`
	PricingCategory string `json:"pricing_category"`
}

type resultSample struct {
	To        string `json:"to"`
	Status    string `json:"status"`
	IDOrError string `json:"id_or_error"`
}

type sendResponse struct {
	DryRun          bool           `json:"dry_run"`
	Area            string         `json:"area"`
	Channel         string         `json:"channel"`
	MessagePreview  string         `json:"message_preview,omitempty"`
	Count           int            `json:"count"`
	Sent            int            `json:"sent"`
	Failed          int            `json:"failed"`
	Fingerprint     string         `json:"fingerprint"`
	ResultsSample   []resultSample `json:"results_sample,omitempty"`
	WhatsAppBackend string         `json:"whatsapp_backend"`
	PricingCategory string         `json:"pricing_category"`
	UnitPrice       float64        `json:"unit_price"`
	EstimatedCost   float64        `json:"estimated_cost"`
	Currency        string         `json:"currency"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublicConfig(w http.ResponseWriter, _ *http.Request) {
	p := s.opts.Pricing
	writeJSON(w, http.StatusOK, map[string]any{
		"currency":                 p.Currency,
		"default_pricing_category": p.Default,
		"prices":                   p.Prices,
	})
}

func (s *Server) handleAreas(w http.ResponseWriter, _ *http.Request) {
	contacts, err := s.opts.Directory.Load()
	if err != nil {
		s.directoryError(w, err)
		return
	}

	summaries := directory.Areas(contacts)
	areas := make([]string, 0, len(summaries))
	counts := make(map[string]int, len(summaries))
	customers := make(map[string][]directory.Contact, len(summaries))
	for _, sum := range summaries {
		areas = append(areas, sum.Area)
		counts[sum.Area] = sum.Count
		customers[sum.Area] = sum.Contacts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"areas":     areas,
		"counts":    counts,
		"customers": customers,
	})
}

// handleSend runs the whole blast state machine: validate, then either a
// dry-run estimate or load -> filter -> dispatch -> audit -> respond.
// Per-recipient failures are data in the response, never a request error.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Area = strings.TrimSpace(req.Area)
	req.Message = strings.TrimSpace(req.Message)
	req.MsgType = strings.TrimSpace(req.MsgType)
	req.ETAStart = strings.TrimSpace(req.ETAStart)
	req.ETAEnd = strings.TrimSpace(req.ETAEnd)
	if req.Channel == "" {
		req.Channel = string(channel.WhatsApp)
	}
	if err := s.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, "need area, channel in {sms, whatsapp}, and message")
		return
	}
	ch, err := channel.Parse(req.Channel)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "need area, channel in {sms, whatsapp}, and message")
		return
	}

	category := s.opts.Pricing.NormalizeCategory(req.PricingCategory)
	unit := s.opts.Pricing.UnitPrice(category)
	fp := audit.Fingerprint(req.Area, string(ch), req.Message)
	backend, native := s.opts.Pick(ch)

	contacts, err := s.opts.Directory.Load()
	if err != nil {
		s.directoryError(w, err)
		return
	}
	segment := directory.FilterArea(contacts, req.Area)
	if len(segment) == 0 {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("no contacts found in area %q", req.Area))
		return
	}

	resp := sendResponse{
		DryRun:          req.DryRun,
		Area:            req.Area,
		Channel:         string(ch),
		Count:           len(segment),
		Fingerprint:     fp,
		WhatsAppBackend: backend,
		PricingCategory: category,
		UnitPrice:       unit,
		Currency:        s.opts.Pricing.Currency,
	}

	if req.DryRun {
		resp.MessagePreview = preview(req.Message)
		resp.EstimatedCost = unit * float64(len(segment))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sender, err := s.opts.SenderFor(ch)
	if err != nil {
		s.log.Error("no usable backend", logx.Err(err), logx.String("channel", string(ch)))
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	recipients := make([]string, 0, len(segment))
	for _, c := range segment {
		recipients = append(recipients, channel.Resolve(c.Phone, ch, native))
	}

	pace := s.opts.PaceBulk
	if native {
		pace = s.opts.PaceCloud
	}
	// The blast is detached from the client connection: once dispatch
	// begins it runs to completion even if the caller disconnects. The
	// adapters' own timeouts bound the individual provider calls.
	ctx := context.WithoutCancel(r.Context())

	coord := dispatch.New(dispatch.Config{Workers: s.opts.Workers, Pace: pace}, s.log)
	rep := coord.Dispatch(ctx, recipients, req.Message, sender)

	resp.Sent = rep.Sent
	resp.Failed = rep.Failed
	resp.EstimatedCost = unit * float64(rep.Sent)
	resp.ResultsSample = sample(rep.Results)

	s.log.Info("blast finished",
		logx.String("fingerprint", fp),
		logx.String("area", req.Area),
		logx.String("channel", string(ch)),
		logx.String("backend", backend),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Float64("est_cost", resp.EstimatedCost),
	)

	s.recordAudit(ctx, req, ch, rep, fp, category, unit, resp.EstimatedCost)
	s.opts.Metrics.ObserveBlast(string(ch), backend, rep.Sent, rep.Failed)
	s.publishCompleted(req.Area, ch, backend, len(segment), rep, fp, resp.EstimatedCost)
	s.opts.Notifier.BlastFinished(notify.Summary{
		Area:     req.Area,
		Channel:  string(ch),
		Backend:  backend,
		Count:    len(segment),
		Sent:     rep.Sent,
		Failed:   rep.Failed,
		Cost:     resp.EstimatedCost,
		Currency: s.opts.Pricing.Currency,
	})

	writeJSON(w, http.StatusOK, resp)
}

// recordAudit appends the blast record. A dead audit sink must not turn a
// completed blast into a request failure, so errors only log.
func (s *Server) recordAudit(ctx context.Context, req sendRequest, ch channel.Channel, rep dispatch.Report, fp, category string, unit, cost float64) {
	if s.opts.Store == nil {
		return
	}
	err := s.opts.Store.Append(ctx, audit.Record{
		At:            time.Now().UTC(),
		Area:          req.Area,
		Channel:       string(ch),
		Count:         len(rep.Results),
		Sent:          rep.Sent,
		Failed:        rep.Failed,
		Fingerprint:   fp,
		MsgType:       req.MsgType,
		ETA:           etaWindow(req.ETAStart, req.ETAEnd),
		Category:      category,
		UnitPrice:     unit,
		EstimatedCost: cost,
		Currency:      s.opts.Pricing.Currency,
	})
	if err != nil {
		s.log.Warn("audit append failed", logx.Err(err), logx.String("fingerprint", fp))
	}
}

func (s *Server) publishCompleted(area string, ch channel.Channel, backend string, count int, rep dispatch.Report, fp string, cost float64) {
	if s.opts.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishGrace)
	defer cancel()
	env := events.NewBlastCompleted(events.BlastCompleted{
		Area:          area,
		Channel:       string(ch),
		Backend:       backend,
		Count:         count,
		Sent:          rep.Sent,
		Failed:        rep.Failed,
		Fingerprint:   fp,
		EstimatedCost: cost,
		Currency:      s.opts.Pricing.Currency,
	})
	if err := s.opts.Publisher.Publish(ctx, events.TypeBlastCompleted, env); err != nil {
		s.log.Warn("event publish failed", logx.Err(err), logx.String("fingerprint", fp))
	}
}

func (s *Server) directoryError(w http.ResponseWriter, err error) {
	var schemaErr *directory.SchemaError
	switch {
	case errors.Is(err, directory.ErrUnavailable):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.As(err, &schemaErr):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("contact source load failed", logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "contact source load failed")
	}
}

func sample(results []provider.Result) []resultSample {
	n := len(results)
	if n > sampleLen {
		n = sampleLen
	}
	out := make([]resultSample, 0, n)
	for _, r := range results[:n] {
		status := "sent"
		if !r.OK {
			status = "error"
		}
		out = append(out, resultSample{To: r.To, Status: status, IDOrError: r.Info})
	}
	return out
}

func preview(message string) string {
	runes := []rune(message)
	if len(runes) <= previewLen {
		return message
	}
	return string(runes[:previewLen])
}

// etaWindow renders the optional outage window as "start-end"; either end
// missing yields the empty string.
func etaWindow(start, end string) string {
	if start == "" || end == "" {
		return ""
	}
	return start + "-" + end
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
