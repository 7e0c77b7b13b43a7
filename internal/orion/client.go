// Package orion publishes prediction entities to the NGSI-LD context broker.
package orion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors for broker failures.
var (
	// ErrBrokerWrite is returned when the upsert could not be completed
	// within the configured retry budget. The worker fails the job on it.
	ErrBrokerWrite = errors.New("broker write failed")

	ErrBrokerUnreachable = errors.New("broker unreachable")
	ErrBrokerTimeout     = errors.New("broker request timeout")
)

// Publisher is the interface the worker publishes completed predictions
// through.
type Publisher interface {
	// Publish performs an idempotent upsert of the prediction entity keyed
	// by (tenant, entity, attribute). A republish carrying an older or
	// equal generatedAt than the stored entity is a safe no-op.
	Publish(ctx context.Context, p PredictionParams) error
}

// Client implements Publisher against the Orion-LD HTTP API.
type Client struct {
	baseURL    string
	contextURL string
	maxRetries int
	client     *http.Client
}

// NewClient creates an Orion-LD client. maxRetries bounds how many times a
// failed upsert attempt is retried with exponential backoff before
// ErrBrokerWrite surfaces.
func NewClient(baseURL, contextURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL:    baseURL,
		contextURL: contextURL,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Publish(ctx context.Context, p PredictionParams) error {
	operation := func() error {
		return c.upsert(ctx, p)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerWrite, err)
	}
	return nil
}

// upsert is a single create-or-update attempt. Entity creation conflicts
// (409) fall through to a staleness-gated attribute update.
func (c *Client) upsert(ctx context.Context, p PredictionParams) error {
	entityID := PredictionEntityID(p.TenantID, p.EntityID, p.Attribute)

	status, err := c.send(ctx, http.MethodPost, c.baseURL+"/ngsi-ld/v1/entities",
		p.TenantID, buildEntity(c.contextURL, p))
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusNoContent:
		slog.Info("prediction entity created",
			"entity_id", entityID, "tenant_id", p.TenantID)
		return nil
	case status == http.StatusConflict:
		return c.update(ctx, entityID, p)
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		// The broker rejected the entity itself; retrying cannot help.
		return backoff.Permanent(fmt.Errorf("broker rejected entity: status %d", status))
	default:
		return fmt.Errorf("broker create returned status %d", status)
	}
}

func (c *Client) update(ctx context.Context, entityID string, p PredictionParams) error {
	existing, err := c.fetch(ctx, entityID, p.TenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		if ts, ok := existing.generatedAt(); ok && !p.GeneratedAt.After(ts) {
			// An equal-or-newer entity is already stored; a late-arriving
			// duplicate from redelivery must not clobber it.
			slog.Info("prediction entity up to date, skipping write",
				"entity_id", entityID, "stored_generated_at", ts)
			return nil
		}
	}

	status, err := c.send(ctx, http.MethodPatch,
		c.baseURL+"/ngsi-ld/v1/entities/"+entityID+"/attrs",
		p.TenantID, buildUpdate(p))
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		slog.Info("prediction entity updated",
			"entity_id", entityID, "tenant_id", p.TenantID)
		return nil
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("broker rejected update: status %d", status))
	default:
		return fmt.Errorf("broker update returned status %d", status)
	}
}

// fetch loads the stored entity for the staleness gate. A 404 (entity gone
// between conflict and fetch) returns nil so the caller proceeds with the
// update path.
func (c *Client) fetch(ctx context.Context, entityID, tenantID string) (*fetchedEntity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/ngsi-ld/v1/entities/"+entityID, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req, tenantID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker fetch returned status %d", resp.StatusCode)
	}

	var entity fetchedEntity
	if err := json.NewDecoder(resp.Body).Decode(&entity); err != nil {
		return nil, fmt.Errorf("decoding entity: %w", err)
	}
	return &entity, nil
}

func (c *Client) send(ctx context.Context, method, url, tenantID string, body any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("encoding entity: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	c.setHeaders(req, tenantID)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// setHeaders injects the FIWARE multi-tenancy and JSON-LD context headers.
// Tenant scoping on broker writes runs through Fiware-Service, independent
// of the REST API's X-Tenant-ID header.
func (c *Client) setHeaders(req *http.Request, tenantID string) {
	req.Header.Set("Fiware-Service", tenantID)
	req.Header.Set("Fiware-ServicePath", "/")
	req.Header.Set("Content-Type", "application/ld+json")
	req.Header.Set("Accept", "application/ld+json")
	if c.contextURL != "" {
		req.Header.Set("Link",
			fmt.Sprintf(`<%s>; rel="http://www.w3.org/ns/json-ld#context"; type="application/ld+json"`, c.contextURL))
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBrokerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrBrokerTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
}

// Compile-time check that Client implements Publisher.
var _ Publisher = (*Client)(nil)
