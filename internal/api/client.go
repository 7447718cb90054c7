package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"match-predictor/internal/prediction"

	"github.com/go-resty/resty/v2"
)

// Client calls a running prediction service. Tools use it when the service
// holds the database exclusively.
type Client struct {
	rest *resty.Client
}

// ClientError is a non-2xx answer from the service.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service returned %d", e.Code)
	}
	return fmt.Sprintf("service returned %d: %s", e.Code, e.Message)
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rest: r}
}

// Reconcile submits the result of a fixture. An empty outcome asks the
// service to look the final score up itself; an empty modelVersion means
// the service's own version.
func (c *Client) Reconcile(ctx context.Context, fixtureID, modelVersion, outcome string) (*prediction.Prediction, error) {
	var (
		out    prediction.Prediction
		apiErr errorResponse
	)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("fixtureID", fixtureID).
		SetBody(ReconcileRequest{ActualOutcome: outcome, ModelVersion: modelVersion}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/predictions/{fixtureID}/result")
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", fixtureID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ClientError{Code: resp.StatusCode(), Message: apiErr.Error}
	}
	return &out, nil
}

// Accuracy returns the service's accuracy for the model it serves.
func (c *Client) Accuracy(ctx context.Context) (prediction.Accuracy, error) {
	var (
		out    prediction.Accuracy
		apiErr errorResponse
	)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/v1/accuracy")
	if err != nil {
		return prediction.Accuracy{}, fmt.Errorf("accuracy: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return prediction.Accuracy{}, &ClientError{Code: resp.StatusCode(), Message: apiErr.Error}
	}
	return out, nil
}
