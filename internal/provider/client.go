package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/clientcredentials"

	"caseflow-backend/internal/shared/telemetry"
)

const maxAttachmentBytes = 50 << 20

// ErrNotConfigured is returned when no provider base URL is set.
var ErrNotConfigured = errors.New("provider client not configured")

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Config holds the provider API endpoints and credentials.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Client calls the legal-records provider API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New builds a Client. With a token URL and client id the HTTP client
// authenticates through the OAuth2 client-credentials grant; otherwise
// requests go out unauthenticated (local stubs).
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, eris.Wrap(err, "provider: parse base url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" && cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = timeout
	}
	return &Client{baseURL: base, http: httpClient}, nil
}

// CaseRequest asks the provider to look up a lawsuit.
type CaseRequest struct {
	CaseID        string `json:"external_reference"`
	LawsuitNumber string `json:"lawsuit_number"`
	Court         string `json:"court,omitempty"`
	Attachments   bool   `json:"with_attachments"`
}

type caseRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// RequestCaseData starts an asynchronous lookup. The provider answers later
// through the webhook, keyed by the returned request id.
func (c *Client) RequestCaseData(ctx context.Context, req CaseRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "provider: encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("requests"), bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "provider: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "provider: request case data")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", statusError("request case data", resp)
	}

	var out caseRequestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", eris.Wrap(err, "provider: decode request response")
	}
	if out.RequestID == "" {
		return "", eris.New("provider: response missing request_id")
	}
	telemetry.Info("provider.request_sent", map[string]any{
		"case_id":    req.CaseID,
		"request_id": out.RequestID,
	})
	return out.RequestID, nil
}

// Download is an attachment body. Callers must close Body.
type Download struct {
	Body        io.ReadCloser
	ContentType string
}

// DownloadAttachment fetches an attachment. Absolute URLs from the payload are
// used as-is; anything else is resolved against the base URL.
func (c *Client) DownloadAttachment(ctx context.Context, ref string) (Download, error) {
	if strings.TrimSpace(ref) == "" {
		return Download{}, eris.New("provider: empty attachment reference")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(ref), nil)
	if err != nil {
		return Download{}, eris.Wrap(err, "provider: build download")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Download{}, eris.Wrapf(err, "provider: download %s", ref)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return Download{}, statusError("download attachment", resp)
	}
	return Download{
		Body:        limitedBody{Reader: io.LimitReader(resp.Body, maxAttachmentBytes), Closer: resp.Body},
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) resolve(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return u.String()
	}
	return c.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(ref, "/")}).String()
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
