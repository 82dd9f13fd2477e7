package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHECBatch is the number of events sent per HEC request.
const DefaultHECBatch = 100

// hecEvent is the HTTP Event Collector envelope. The S3 sink writes the same
// shape so archived objects can be replayed into HEC.
type hecEvent struct {
	Time       json.Number `json:"time"`
	Host       string      `json:"host,omitempty"`
	Source     string      `json:"source,omitempty"`
	Sourcetype string      `json:"sourcetype,omitempty"`
	Index      string      `json:"index,omitempty"`
	Event      string      `json:"event"`
}

func newHECEvent(meta Metadata, e Event) hecEvent {
	source := meta.Source
	if source == "" {
		source = meta.Input
	}
	return hecEvent{
		Time:       json.Number(e.TimeString()),
		Host:       meta.Host,
		Source:     source,
		Sourcetype: meta.Sourcetype,
		Index:      meta.Index,
		Event:      e.Data,
	}
}

// HECConfig configures an HEC sink.
type HECConfig struct {
	// URL of splunkd's collector, e.g. https://splunk:8088. The event
	// endpoint path is appended when URL has no path.
	URL       string
	Token     string
	BatchSize int
	Client    *http.Client
}

// HEC posts events to the Splunk HTTP Event Collector in batches.
type HEC struct {
	endpoint string
	token    string
	batch    int
	client   *http.Client
	meta     Metadata

	buf     bytes.Buffer
	pending int
}

// NewHEC validates cfg and returns the sink.
func NewHEC(cfg HECConfig, meta Metadata) (*HEC, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("hec url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("hec token is required")
	}
	endpoint := strings.TrimRight(cfg.URL, "/")
	if !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://"), "/") {
		endpoint += "/services/collector/event"
	}
	h := &HEC{
		endpoint: endpoint,
		token:    cfg.Token,
		batch:    cfg.BatchSize,
		client:   cfg.Client,
		meta:     meta,
	}
	if h.batch <= 0 {
		h.batch = DefaultHECBatch
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 30 * time.Second}
	}
	return h, nil
}

func (h *HEC) Write(ctx context.Context, e Event) error {
	b, err := json.Marshal(newHECEvent(h.meta, e))
	if err != nil {
		return &Error{Sink: "hec", Err: fmt.Errorf("failed to encode event: %w", err)}
	}
	h.buf.Write(b)
	h.pending++
	if h.pending >= h.batch {
		return h.flush(ctx)
	}
	return nil
}

func (h *HEC) Close(ctx context.Context) error {
	return h.flush(ctx)
}

func (h *HEC) flush(ctx context.Context) error {
	if h.pending == 0 {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(h.buf.Bytes()))
	if err != nil {
		return &Error{Sink: "hec", Err: err}
	}
	req.Header.Set("Authorization", "Splunk "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return &Error{Sink: "hec", Err: fmt.Errorf("failed to post %d events: %w", h.pending, err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		var ack struct {
			Text string `json:"text"`
			Code int    `json:"code"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &ack) == nil && ack.Text != "" {
			msg = fmt.Sprintf("%s (code %d)", ack.Text, ack.Code)
		}
		return &Error{Sink: "hec", Err: fmt.Errorf("collector returned %s: %s", resp.Status, msg)}
	}

	h.buf.Reset()
	h.pending = 0
	return nil
}
