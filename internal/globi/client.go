// Package globi talks to the Global Biotic Interactions REST API.
package globi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"globiagent/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.globalbioticinteractions.org"

	// SourceName is the provenance label attached to every artifact.
	SourceName = "GloBI"

	defaultMaxBodyBytes = 64 << 20
)

var (
	ErrFetch              = errors.New("interactions fetch failed")
	ErrNoInteractionTypes = errors.New("no interaction types returned")
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	// MaxBodyBytes caps an interactions answer. Larger answers fail the fetch.
	MaxBodyBytes int64
}

type Client struct {
	cfg Config
}

// FetchResult carries the raw CSV body together with the exact URL queried.
type FetchResult struct {
	QueryURL   string
	StatusCode int
	Body       string
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Client{cfg: cfg}
}

// InteractionTypes lists the valid interaction types. The endpoint answers
// with a JSON array of names; an object keyed by name is accepted as well.
func (c *Client) InteractionTypes(ctx context.Context) ([]string, error) {
	endpoint := c.cfg.BaseURL + "/interactionTypes"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build interaction types request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("interaction types request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read interaction types: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("interaction types status %d", resp.StatusCode)
	}

	types, err := parseInteractionTypes(body)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, ErrNoInteractionTypes
	}
	return types, nil
}

func parseInteractionTypes(body []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(body, &byName); err != nil {
		return nil, fmt.Errorf("decode interaction types: %w", err)
	}
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// QueryURL substitutes the parameters into the interactions path template.
// Values are inserted as given; the transport escapes what it must.
func (c *Client) QueryURL(p SearchParameters) string {
	return fmt.Sprintf("%s/taxon/%s/%s?type=csv", c.cfg.BaseURL, p.SubjectTaxon, p.InteractionType)
}

// FetchInteractions issues a single GET for p. The body of a non-2xx answer
// is returned unchanged; only a request that produced no response is an error.
func (c *Client) FetchInteractions(ctx context.Context, p SearchParameters) (FetchResult, error) {
	queryURL := c.QueryURL(p)
	res := FetchResult{QueryURL: queryURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, escapeStrayPercent(queryURL), nil)
	if err != nil {
		return res, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/csv")

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	c.cfg.Metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return res, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		c.cfg.Logger.Warn().
			Int64("limit", c.cfg.MaxBodyBytes).
			Str("url", queryURL).
			Msg("interactions answer too large")
		return res, fmt.Errorf("%w: answer exceeds %d bytes", ErrFetch, c.cfg.MaxBodyBytes)
	}

	res.StatusCode = resp.StatusCode
	res.Body = string(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.cfg.Metrics.UpstreamNon2xx.Inc()
		c.cfg.Logger.Warn().
			Int("status", resp.StatusCode).
			Str("url", queryURL).
			Msg("interactions api answered with non-2xx status, passing body through")
	}
	return res, nil
}

// escapeStrayPercent encodes every '%' that does not start a valid escape,
// so a taxon such as "100% Naja" still yields a parseable URL.
func escapeStrayPercent(raw string) string {
	if !strings.Contains(raw, "%") {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		if raw[i] == '%' && !(i+2 < len(raw) && isHex(raw[i+1]) && isHex(raw[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
