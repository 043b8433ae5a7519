package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Invalidator asks the CDN to discard cached copies of specific paths.
// Callers treat failures as non-fatal: artifact paths are content-unique, so
// a stale cache entry can never serve wrong bytes.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

type invalidationRequest struct {
	DistributionID  string   `json:"distributionId"`
	CallerReference string   `json:"callerReference"`
	Paths           []string `json:"paths"`
}

type httpInvalidator struct {
	endpoint       string
	distributionID string
	client         *http.Client
}

func NewHTTPInvalidator(endpoint, distributionID string) Invalidator {
	return &httpInvalidator{
		endpoint:       endpoint,
		distributionID: distributionID,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

func (i *httpInvalidator) Invalidate(ctx context.Context, paths []string) error {
	body, err := json.Marshal(invalidationRequest{
		DistributionID:  i.distributionID,
		CallerReference: strconv.FormatInt(time.Now().UnixMilli(), 10),
		Paths:           paths,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("invalidation request returned %s", resp.Status)
	}
	return nil
}

type noopInvalidator struct{}

// NewNoopInvalidator returns an invalidator for deployments without a CDN in
// front of the bucket.
func NewNoopInvalidator() Invalidator {
	return &noopInvalidator{}
}

func (noopInvalidator) Invalidate(ctx context.Context, paths []string) error {
	return nil
}
