package credential

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Splunk stores secrets in splunkd's storage/passwords endpoint. Each secret
// is stored with the credential name as username and Realm as realm.
type Splunk struct {
	// URL is the splunkd management URI, e.g. https://127.0.0.1:8089.
	URL        string
	SessionKey string
	// App namespaces the stored passwords. Defaults to "search".
	App string
	// Realm is the input name owning the secrets.
	Realm  string
	Client *http.Client
}

// NewSplunk returns a store for one input. splunkd's management port uses a
// self-signed certificate unless configured otherwise, so verification can
// be disabled with insecure.
func NewSplunk(serverURI, sessionKey, app, realm string, insecure bool) *Splunk {
	client := &http.Client{Timeout: 30 * time.Second}
	if insecure {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	}
	return &Splunk{URL: serverURI, SessionKey: sessionKey, App: app, Realm: realm, Client: client}
}

func (s *Splunk) Resolve(ctx context.Context, name string) (string, error) {
	var body struct {
		Entry []struct {
			Content struct {
				Username      string `json:"username"`
				Realm         string `json:"realm"`
				ClearPassword string `json:"clear_password"`
			} `json:"content"`
		} `json:"entry"`
	}
	status, err := s.do(ctx, http.MethodGet, s.passwordPath(name), nil, &body)
	if err != nil {
		if status == http.StatusNotFound {
			return "", ErrNotFound
		}
		return "", err
	}
	for _, e := range body.Entry {
		if e.Content.Username == name && e.Content.Realm == s.Realm {
			return e.Content.ClearPassword, nil
		}
	}
	return "", ErrNotFound
}

// Rotate replaces any stored secret for name.
func (s *Splunk) Rotate(ctx context.Context, name, secret string) error {
	status, err := s.do(ctx, http.MethodDelete, s.passwordPath(name), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("failed to delete stored secret: %w", err)
	}

	form := url.Values{"name": {name}, "password": {secret}, "realm": {s.Realm}}
	if _, err := s.do(ctx, http.MethodPost, s.nsPath("storage/passwords"), form, nil); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// MaskInput replaces the listed fields of data/inputs/<kind>/<name> with Mask.
func (s *Splunk) MaskInput(ctx context.Context, kind, name string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	form := url.Values{}
	for _, f := range fields {
		form.Set(f, Mask)
	}
	p := s.nsPath("data/inputs/" + url.PathEscape(kind) + "/" + url.PathEscape(name))
	if _, err := s.do(ctx, http.MethodPost, p, form, nil); err != nil {
		return fmt.Errorf("failed to mask input %s://%s: %w", kind, name, err)
	}
	return nil
}

func (s *Splunk) nsPath(endpoint string) string {
	app := s.App
	if app == "" {
		app = "search"
	}
	return "/servicesNS/nobody/" + url.PathEscape(app) + "/" + endpoint
}

// passwordPath addresses the entity "<realm>:<username>:" with colons in
// either part escaped.
func (s *Splunk) passwordPath(name string) string {
	esc := strings.NewReplacer(":", `\:`)
	entity := esc.Replace(s.Realm) + ":" + esc.Replace(name) + ":"
	return s.nsPath("storage/passwords/" + url.PathEscape(entity))
}

func (s *Splunk) do(ctx context.Context, method, path string, form url.Values, out any) (int, error) {
	u, err := url.Parse(strings.TrimRight(s.URL, "/") + path)
	if err != nil {
		return 0, fmt.Errorf("invalid splunkd url: %w", err)
	}
	q := u.Query()
	q.Set("output_mode", "json")
	u.RawQuery = q.Encode()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Splunk "+s.SessionKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("splunkd request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read splunkd response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("splunkd %s %s returned %s: %s", method, path, resp.Status, splunkMessage(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode splunkd response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func splunkMessage(raw []byte) string {
	var body struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Messages) > 0 {
		return body.Messages[0].Text
	}
	return strings.TrimSpace(string(raw))
}
