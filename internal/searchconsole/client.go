// Package searchconsole reads sites and search analytics from the Google
// Search Console API, proxied through a backend function.
package searchconsole

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/config"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const (
	statusUnauthenticated  = "UNAUTHENTICATED"
	statusPermissionDenied = "PERMISSION_DENIED"
	reasonAuthError        = "authError"

	maxErrorBody = 64 << 10
)

type Client struct {
	baseURL  string
	http     *http.Client
	rowLimit int
	now      func() time.Time
}

func NewClient(cfg config.SearchConsole, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("search console base url must not be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing search console base url: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		http:     httpClient,
		rowLimit: cfg.RowLimit,
		now:      time.Now,
	}, nil
}

// ListSites returns the properties the token owner can read.
func (c *Client) ListSites(ctx context.Context, token session.Token) ([]Site, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "list_sites")
	defer span.End()

	var resp listSitesResponse
	if err := c.do(ctx, token, http.MethodGet, c.baseURL+"/sites", nil, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return resp.SiteEntry, nil
}

// Query runs a search analytics query for one site.
func (c *Client) Query(ctx context.Context, token session.Token, q Query) (Rows, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "query_search_analytics",
		trace.WithAttributes(
			attribute.String("site", q.SiteURL),
			attribute.String("range", string(q.Range)),
			attribute.String("type", string(q.Type)),
		),
	)
	defer span.End()

	if q.SiteURL == "" {
		return Rows{}, serviceerr.ErrNoSiteSelected
	}
	if q.Type != "" && !q.Type.Valid() {
		return Rows{}, fmt.Errorf("%w: unknown search type %q", serviceerr.ErrInvalidRequest, string(q.Type))
	}

	start, end, err := q.Range.Window(c.now())
	if err != nil {
		return Rows{}, fmt.Errorf("%w: %w", serviceerr.ErrInvalidRequest, err)
	}

	rowLimit := q.RowLimit
	if rowLimit <= 0 {
		rowLimit = c.rowLimit
	}

	body := queryRequest{
		StartDate:  start.Format(DateLayout),
		EndDate:    end.Format(DateLayout),
		Type:       q.Type,
		Dimensions: q.Dimensions,
		RowLimit:   rowLimit,
	}

	endpoint := c.baseURL + "/sites/" + url.PathEscape(q.SiteURL) + "/searchAnalytics/query"

	var resp queryResponse
	if err := c.do(ctx, token, http.MethodPost, endpoint, body, &resp); err != nil {
		span.RecordError(err)
		return Rows{}, err
	}

	return Rows{
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
		Rows:        resp.Rows,
		Aggregation: resp.ResponseAggregationType,
	}, nil
}

func (c *Client) do(ctx context.Context, token session.Token, method, endpoint string, in, out any) error {
	// an expired token is never sent
	if !token.Valid(c.now()) {
		return serviceerr.ErrNotAuthenticated
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		Expiry:      token.Expiry,
	}))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", serviceerr.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", serviceerr.ErrFetchFailed, err)
	}

	return nil
}

// decodeError maps an error response. Rejected credentials are reported as
// serviceerr.ErrUnauthenticated, everything else as serviceerr.ErrFetchFailed.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope apiErrorEnvelope
	_ = json.Unmarshal(raw, &envelope)

	if isUnauthenticated(resp.StatusCode, envelope) {
		return serviceerr.ErrUnauthenticated
	}

	msg := strings.TrimSpace(envelope.Error.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	return fmt.Errorf("%w: %s: %s", serviceerr.ErrFetchFailed, resp.Status, msg)
}

func isUnauthenticated(statusCode int, envelope apiErrorEnvelope) bool {
	if statusCode == http.StatusUnauthorized || envelope.Error.Status == statusUnauthenticated {
		return true
	}
	if statusCode != http.StatusForbidden || envelope.Error.Status != statusPermissionDenied {
		return false
	}
	for _, e := range envelope.Error.Errors {
		if e.Reason == reasonAuthError {
			return true
		}
	}

	return false
}
