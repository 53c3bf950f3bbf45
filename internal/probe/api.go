package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// pathsListEndpoint is the MediaMTX control API call used as a liveness check.
const pathsListEndpoint = "/v3/paths/list"

// pathsList is the subset of the MediaMTX paths response we read.
type pathsList struct {
	ItemCount int `json:"itemCount"`
	Items     []struct {
		Name  string `json:"name"`
		Ready bool   `json:"ready"`
	} `json:"items"`
}

// APIConsumerProbe treats the consumer as alive while its control API
// answers the paths listing.
type APIConsumerProbe struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewAPIConsumerProbe creates a probe against the API at baseURL, for
// example http://127.0.0.1:9997. A nil client uses http.DefaultClient;
// callers bound each request through the context.
func NewAPIConsumerProbe(baseURL string, client *http.Client, logger *slog.Logger) *APIConsumerProbe {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIConsumerProbe{
		url:    strings.TrimRight(baseURL, "/") + pathsListEndpoint,
		client: client,
		logger: logger,
	}
}

// Alive reports whether the API returned a well-formed paths listing.
func (p *APIConsumerProbe) Alive(ctx context.Context) bool {
	paths, err := p.list(ctx)
	if err != nil {
		p.logger.Debug("Consumer API not reachable", "url", p.url, "error", err)
		return false
	}
	p.logger.Debug("Consumer API healthy", "paths", len(paths.Items))
	return true
}

func (p *APIConsumerProbe) list(ctx context.Context) (*pathsList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consumer API returned status %d", resp.StatusCode)
	}

	var paths pathsList
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	return &paths, nil
}
