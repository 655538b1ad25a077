package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/pkg/model"
)

const (
	exchangePath    = "/data/tokens"
	headerAppSecret = "App-Secret"
)

// Exchanger converts an app secret and optional user token into a scoped
// token for one partition.
type Exchanger interface {
	Exchange(ctx context.Context, partition, userToken string) (*model.TokenResult, error)
}

// HTTPExchanger calls the token exchange service.
type HTTPExchanger struct {
	url       string
	appSecret string
	doer      remote.Doer
	logger    *slog.Logger
}

// NewHTTPExchanger creates an exchanger. A nil doer uses an http.Client with timeout.
func NewHTTPExchanger(baseURL, appSecret string, timeout time.Duration, doer remote.Doer, logger *slog.Logger) *HTTPExchanger {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExchanger{
		url:       strings.TrimSuffix(baseURL, "/") + exchangePath,
		appSecret: appSecret,
		doer:      doer,
		logger:    logger.With("component", "token-exchange"),
	}
}

// Exchange posts {"partitions":[partition]} and returns the single token in the response.
func (e *HTTPExchanger) Exchange(ctx context.Context, partition, userToken string) (*model.TokenResult, error) {
	body, err := json.Marshal(model.TokensRequest{Partitions: []string{partition}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAppSecret, e.appSecret)
	if userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
	}

	start := time.Now()
	resp, err := e.doer.Do(req)
	metrics.TokenExchangeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token exchange response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &remote.HTTPError{
			StatusCode: resp.StatusCode,
			Method:     http.MethodPost,
			Path:       exchangePath,
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return ParseTokenResponse(payload)
}

// ParseTokenResponse validates that the response holds exactly one usable token.
func ParseTokenResponse(payload []byte) (*model.TokenResult, error) {
	var resp model.TokensResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token exchange response: %w", err)
	}
	if len(resp.Tokens) != 1 {
		return nil, fmt.Errorf("%w: got %d", model.ErrTokenCount, len(resp.Tokens))
	}
	token := resp.Tokens[0]
	if !token.IsValid() {
		return nil, fmt.Errorf("%w: status %q for partition %q", model.ErrInvalidToken, token.Status, token.Partition)
	}
	return &token, nil
}
