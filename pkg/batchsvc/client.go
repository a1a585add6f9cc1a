package batchsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"intake/internal/model"
)

// Client is an HTTP client for the batch-processing service with
// client-side rate limiting.
type Client struct {
	http          *resty.Client
	requestTicker *time.Ticker
	requestChan   chan struct{}
}

// New creates a batch service client. Requests are spaced so that at most
// requestsPerMinute reach the service.
func New(baseURL, apiKey string, requestsPerMinute int, timeout time.Duration) *Client {
	interval := time.Minute / time.Duration(requestsPerMinute)

	log.Info().
		Str("base_url", baseURL).
		Int("requests_per_minute", requestsPerMinute).
		Dur("request_interval", interval).
		Msg("Initializing batch service client")

	ticker := time.NewTicker(interval)
	requestChan := make(chan struct{}, 1)
	requestChan <- struct{}{}

	go func() {
		for range ticker.C {
			select {
			case requestChan <- struct{}{}:
			default:
			}
		}
	}()

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetAuthToken(apiKey)

	return &Client{
		http:          httpClient,
		requestTicker: ticker,
		requestChan:   requestChan,
	}
}

// Close stops the rate limit ticker.
func (c *Client) Close() {
	if c.requestTicker != nil {
		c.requestTicker.Stop()
	}
}

// do executes one rate-limited request and decodes the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	select {
	case <-c.requestChan:
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("duration", time.Since(start)).
			Msg("Batch service request failed")
		return fmt.Errorf("batch service request: %w", err)
	}

	if resp.IsError() {
		apiErr := parseAPIError(resp.StatusCode(), resp.Body())
		log.Error().
			Err(apiErr).
			Str("method", method).
			Str("path", path).
			Int("status_code", resp.StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("Batch service returned error response")
		return apiErr
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("Batch service request completed")

	return nil
}

// parseAPIError extracts error information from the service response.
func parseAPIError(statusCode int, respBody []byte) *APIError {
	var errResp struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Code != "" {
		return &APIError{StatusCode: statusCode, Code: errResp.Code, Detail: errResp.Detail}
	}
	return &APIError{StatusCode: statusCode}
}

// CreateBatch registers a new batch with the service.
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (*model.Batch, error) {
	var batch model.Batch
	if err := c.do(ctx, resty.MethodPost, "/batches", req, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// StartProcessing triggers server-side parsing of the batch file.
func (c *Client) StartProcessing(ctx context.Context, batchID string) error {
	err := c.do(ctx, resty.MethodPost, "/batches/"+batchID+"/process", nil, nil)
	if err == nil {
		return nil
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Code == "not_applicable" {
		return fmt.Errorf("start processing %s: %w", batchID, ErrNotApplicable)
	}
	return err
}

// GetBatchStatus returns one polling sample for the batch.
func (c *Client) GetBatchStatus(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	var progress model.BatchProgress
	if err := c.do(ctx, resty.MethodGet, "/batches/"+batchID+"/status", nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// GetBatch fetches the full batch record.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	var batch model.Batch
	if err := c.do(ctx, resty.MethodGet, "/batches/"+batchID, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListBatches lists batches matching the filter.
func (c *Client) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.Batch, error) {
	req := c.http.R().SetContext(ctx)
	if filter.SourceType != "" {
		req.SetQueryParam("source_type", string(filter.SourceType))
	}
	if filter.Status != "" {
		req.SetQueryParam("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(filter.Limit))
	}

	select {
	case <-c.requestChan:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var batches []model.Batch
	resp, err := req.SetResult(&batches).Get("/batches")
	if err != nil {
		return nil, fmt.Errorf("batch service request: %w", err)
	}
	if resp.IsError() {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return batches, nil
}

// ListItems lists the items of a batch.
func (c *Client) ListItems(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error) {
	req := c.http.R().SetContext(ctx)
	if filter.Status != "" {
		req.SetQueryParam("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(filter.Offset))
	}

	select {
	case <-c.requestChan:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var items []model.Item
	resp, err := req.SetResult(&items).Get("/batches/" + batchID + "/items")
	if err != nil {
		return nil, fmt.Errorf("batch service request: %w", err)
	}
	if resp.IsError() {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return items, nil
}

// PatchItem updates one field of one item.
func (c *Client) PatchItem(ctx context.Context, batchID, itemID, field, value string) error {
	body := map[string]string{"field": field, "value": value}
	return c.do(ctx, resty.MethodPatch, "/batches/"+batchID+"/items/"+itemID, body, nil)
}

// ValidateBatch re-runs server-side validation for the batch.
func (c *Client) ValidateBatch(ctx context.Context, batchID string) error {
	return c.do(ctx, resty.MethodPost, "/batches/"+batchID+"/validate", nil, nil)
}

// PromoteBatch promotes a batch or item subset into production records.
func (c *Client) PromoteBatch(ctx context.Context, req PromoteRequest) (*model.PromotionResult, error) {
	var result model.PromotionResult
	if err := c.do(ctx, resty.MethodPost, "/batches/promote", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResetBatch force-returns a batch to an earlier status.
func (c *Client) ResetBatch(ctx context.Context, batchID string, opts ResetOptions) error {
	return c.do(ctx, resty.MethodPost, "/batches/"+batchID+"/reset", opts, nil)
}

// CancelBatch requests cooperative cancellation of server-side processing.
func (c *Client) CancelBatch(ctx context.Context, batchID string) error {
	return c.do(ctx, resty.MethodPost, "/batches/"+batchID+"/cancel", nil, nil)
}

// DeleteBatch permanently removes the batch and its items.
func (c *Client) DeleteBatch(ctx context.Context, batchID string) error {
	return c.do(ctx, resty.MethodDelete, "/batches/"+batchID, nil, nil)
}

// SetBatchMapping applies a saved mapping to the batch. The service
// increments the mapping's use count.
func (c *Client) SetBatchMapping(ctx context.Context, batchID, mappingID string) error {
	body := map[string]string{"mapping_id": mappingID}
	return c.do(ctx, resty.MethodPut, "/batches/"+batchID+"/mapping", body, nil)
}

// ListMappings lists the saved column mappings.
func (c *Client) ListMappings(ctx context.Context) ([]model.SavedMapping, error) {
	var mappings []model.SavedMapping
	if err := c.do(ctx, resty.MethodGet, "/mappings", nil, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

// SaveMapping stores a named mapping for reuse.
func (c *Client) SaveMapping(ctx context.Context, name string, mapping map[string]string) (*model.SavedMapping, error) {
	body := map[string]interface{}{"name": name, "mapping": mapping}
	var saved model.SavedMapping
	if err := c.do(ctx, resty.MethodPost, "/mappings", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
