package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/pkg/model"
)

// Header names understood by the document store.
const (
	HeaderPartitionKey = "x-ms-documentdb-partitionkey"
	HeaderVersion      = "x-ms-version"
	HeaderDate         = "x-ms-date"
	HeaderActivityID   = "x-ms-activity-id"
	HeaderUpsert       = "x-ms-documentdb-is-upsert"
	HeaderContinuation = "x-ms-continuation"
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues document calls against the remote store with an exchanged token.
type Client struct {
	cfg    Config
	doer   Doer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a document client. A nil doer uses an http.Client with cfg.Timeout.
func New(cfg Config, doer Doer, logger *slog.Logger) *Client {
	cfg.ApplyDefaults()
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		doer:   doer,
		logger: logger.With("component", "remote-client"),
		now:    time.Now,
	}
}

// Read fetches one document.
func (c *Client) Read(ctx context.Context, token *model.TokenResult, id string) (*model.Document, error) {
	payload, _, err := c.call(ctx, http.MethodGet, token, id, nil, nil)
	if err != nil {
		return nil, err
	}
	return model.ParseEnvelope(payload)
}

// Create inserts a document. The store rejects ids that already exist.
func (c *Client) Create(ctx context.Context, token *model.TokenResult, doc *model.Document) (*model.Document, error) {
	return c.write(ctx, token, doc, nil)
}

// Replace upserts a document.
func (c *Client) Replace(ctx context.Context, token *model.TokenResult, doc *model.Document) (*model.Document, error) {
	return c.write(ctx, token, doc, map[string]string{HeaderUpsert: "true"})
}

func (c *Client) write(ctx context.Context, token *model.TokenResult, doc *model.Document, extra map[string]string) (*model.Document, error) {
	body, err := json.Marshal(model.NewEnvelope(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document %s: %w", doc.ID, err)
	}
	payload, _, err := c.call(ctx, http.MethodPost, token, "", body, extra)
	if err != nil {
		return nil, err
	}
	return model.ParseEnvelope(payload)
}

// Delete removes one document.
func (c *Client) Delete(ctx context.Context, token *model.TokenResult, id string) error {
	_, _, err := c.call(ctx, http.MethodDelete, token, id, nil, nil)
	return err
}

// List fetches a page of the token's partition. The returned continuation is
// empty when there is no further page.
func (c *Client) List(ctx context.Context, token *model.TokenResult, continuation string) (*model.Page, string, error) {
	var extra map[string]string
	if continuation != "" {
		extra = map[string]string{HeaderContinuation: continuation}
	}
	payload, header, err := c.call(ctx, http.MethodGet, token, "", nil, extra)
	if err != nil {
		return nil, "", err
	}
	page, err := model.ParsePage(payload)
	if err != nil {
		return nil, "", err
	}
	return page, header.Get(HeaderContinuation), nil
}

// DocumentURL returns the resource URL for a document, or the collection's
// docs feed when id is empty.
func (c *Client) DocumentURL(token *model.TokenResult, id string) string {
	endpoint := c.cfg.EndpointFormat
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, token.DBAccount)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(endpoint, "/"))
	b.WriteString("/dbs/")
	b.WriteString(url.PathEscape(token.DBName))
	b.WriteString("/colls/")
	b.WriteString(url.PathEscape(token.DBCollectionName))
	b.WriteString("/docs")
	if id != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(id))
	}
	return b.String()
}

func (c *Client) call(ctx context.Context, method string, token *model.TokenResult, id string, body []byte, extra map[string]string) ([]byte, http.Header, error) {
	target := c.DocumentURL(token, id)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	c.setHeaders(req, token, extra)

	start := time.Now()
	resp, err := c.doer.Do(req)
	metrics.RemoteCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		c.logger.Debug("Remote call failed", "method", method, "path", req.URL.Path, "status", resp.StatusCode)
		return nil, nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       req.URL.Path,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	return payload, resp.Header, nil
}

func (c *Client) setHeaders(req *http.Request, token *model.TokenResult, extra map[string]string) {
	req.Header.Set(HeaderPartitionKey, fmt.Sprintf(`["%s"]`, token.Partition))
	req.Header.Set(HeaderVersion, c.cfg.APIVersion)
	req.Header.Set(HeaderDate, strings.ToLower(c.now().UTC().Format(http.TimeFormat)))
	req.Header.Set(HeaderActivityID, uuid.NewString())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", url.QueryEscape(token.Token))
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}
