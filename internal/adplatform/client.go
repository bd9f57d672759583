// Package adplatform talks to the platform integration gateway, the
// internal HTTP service that fronts the Facebook, Google and TikTok APIs
// with normalized entities, metrics and mutations.
package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/observability"
)

// Client implements domain.MetricProvider and domain.PlatformAPI over
// the gateway's REST API. Metric reads are idempotent and retried with
// exponential backoff; mutations are sent exactly once per cycle.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	retryMaxElapsed time.Duration
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg domain.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryMax := time.Duration(cfg.RetryMaxElapsedSeconds) * time.Second
	if retryMax <= 0 {
		retryMax = 10 * time.Second
	}
	return &Client{
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		httpClient:      &http.Client{Timeout: timeout},
		retryMaxElapsed: retryMax,
	}
}

// apiError carries the gateway's HTTP status for retry classification.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// GetMetric fetches one windowed metric for an entity. Server errors and
// network failures are retried with backoff; a gateway answer that the
// metric does not exist for this entity maps to ErrMetricUnavailable.
func (c *Client) GetMetric(ctx context.Context, tenantID string, entity domain.EntityRef, metric domain.MetricType, windowDays int) (float64, error) {
	path := fmt.Sprintf("/v1/%s/%s/%s/metrics/%s",
		entity.Platform, entity.Type, url.PathEscape(entity.ID), metric)
	q := url.Values{}
	q.Set("window_days", fmt.Sprintf("%d", windowDays))
	if entity.AccountID != "" {
		q.Set("account_id", entity.AccountID)
	}

	var body struct {
		Value float64 `json:"value"`
	}

	operation := func() error {
		err := c.getJSON(ctx, tenantID, path+"?"+q.Encode(), &body)
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusUnprocessableEntity:
				return backoff.Permanent(fmt.Errorf("%w: %s for %s", domain.ErrMetricUnavailable, metric, entity.ID))
			case apiErr.Status < http.StatusInternalServerError:
				return backoff.Permanent(err)
			}
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.retryMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		observability.MetricFetchErrors.Inc()
		return 0, err
	}
	return body.Value, nil
}

// ListEntities returns all entities of a type under an account.
func (c *Client) ListEntities(ctx context.Context, tenantID string, platform domain.Platform, accountID string, entityType domain.EntityType) ([]domain.EntityRef, error) {
	path := fmt.Sprintf("/v1/%s/entities", platform)
	q := url.Values{}
	q.Set("type", string(entityType))
	if accountID != "" {
		q.Set("account_id", accountID)
	}

	var body struct {
		Entities []domain.EntityRef `json:"entities"`
	}
	if err := c.getJSON(ctx, tenantID, path+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	return body.Entities, nil
}

// Pause stops delivery for an entity.
func (c *Client) Pause(ctx context.Context, tenantID string, entity domain.EntityRef) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "pause"), nil)
}

// Resume restarts delivery for an entity.
func (c *Client) Resume(ctx context.Context, tenantID string, entity domain.EntityRef) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "resume"), nil)
}

// SetStatus sets an entity's delivery status.
func (c *Client) SetStatus(ctx context.Context, tenantID string, entity domain.EntityRef, status string) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "status"), map[string]any{
		"status": status,
	})
}

// GetBudget reads an entity's current daily budget.
func (c *Client) GetBudget(ctx context.Context, tenantID string, entity domain.EntityRef) (float64, error) {
	var body struct {
		DailyBudget float64 `json:"dailyBudget"`
	}
	if err := c.getJSON(ctx, tenantID, c.entityPath(entity, "budget"), &body); err != nil {
		return 0, err
	}
	return body.DailyBudget, nil
}

// SetBudget sets an entity's daily budget.
func (c *Client) SetBudget(ctx context.Context, tenantID string, entity domain.EntityRef, amount float64) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "budget"), map[string]any{
		"dailyBudget": amount,
	})
}

// SetBidModifier applies a multiplicative bid modifier to a dimension value.
func (c *Client) SetBidModifier(ctx context.Context, tenantID string, entity domain.EntityRef, dimension domain.BidDimension, value string, modifier float64) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "bid-modifiers"), map[string]any{
		"dimension": dimension,
		"value":     value,
		"modifier":  modifier,
	})
}

// ExcludeDimension removes a dimension value from serving.
func (c *Client) ExcludeDimension(ctx context.Context, tenantID string, entity domain.EntityRef, dimension domain.BidDimension, value string) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "exclusions"), map[string]any{
		"dimension": dimension,
		"value":     value,
	})
}

// AddNegativeKeyword adds a negative keyword at campaign or ad group level.
func (c *Client) AddNegativeKeyword(ctx context.Context, tenantID string, entity domain.EntityRef, keyword, matchType, level string) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "negative-keywords"), map[string]any{
		"keyword":   keyword,
		"matchType": matchType,
		"level":     level,
	})
}

// ExcludePlacement blocks a placement for an entity.
func (c *Client) ExcludePlacement(ctx context.Context, tenantID string, entity domain.EntityRef, placement string) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "placement-exclusions"), map[string]any{
		"placement": placement,
	})
}

// SetBiddingStrategy changes an entity's bidding strategy.
func (c *Client) SetBiddingStrategy(ctx context.Context, tenantID string, entity domain.EntityRef, strategy string, targetValue float64) error {
	return c.postJSON(ctx, tenantID, c.entityPath(entity, "bidding-strategy"), map[string]any{
		"strategy":    strategy,
		"targetValue": targetValue,
	})
}

func (c *Client) entityPath(entity domain.EntityRef, op string) string {
	return fmt.Sprintf("/v1/%s/%s/%s/%s",
		entity.Platform, entity.Type, url.PathEscape(entity.ID), op)
}

func (c *Client) getJSON(ctx context.Context, tenantID, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, tenantID, out)
}

func (c *Client) postJSON(ctx context.Context, tenantID, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, tenantID, nil)
}

func (c *Client) do(req *http.Request, tenantID string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		json.Unmarshal(data, &errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
