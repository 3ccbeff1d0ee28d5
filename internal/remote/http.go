package remote

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

	"github.com/kelvinhuang/offsync/internal/syncerrors"
)

// HTTPClient talks to a REST backend:
//
//	GET    {base}/{resource}          -> 200, JSON array of entities
//	GET    {base}/{resource}/{id}     -> 200, JSON entity
//	POST   {base}/{resource}          -> 200/201, JSON entity with assigned id
//	PUT    {base}/{resource}/{id}     -> 200, JSON entity
//	DELETE {base}/{resource}/{id}     -> 200/204
//
// Entities are JSON objects whose "id" field is the server identifier.
type HTTPClient struct {
	baseURL  string
	resource string
	http     *http.Client
}

// NewHTTPClient creates a client for one resource collection, e.g.
// NewHTTPClient("https://api.example.com/v1", "tasks", 10*time.Second).
func NewHTTPClient(baseURL, resource string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		resource: strings.Trim(resource, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// FetchAll implements Client.
func (c *HTTPClient) FetchAll(ctx context.Context) ([]DTO, error) {
	body, err := c.do(ctx, http.MethodGet, c.collectionURL(), nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, syncerrors.Network("malformed list response", err)
	}

	dtos := make([]DTO, 0, len(raw))
	for _, obj := range raw {
		dto, err := decodeDTO(obj)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, *dto)
	}
	return dtos, nil
}

// FetchByID implements Client.
func (c *HTTPClient) FetchByID(ctx context.Context, serverID string) (*DTO, error) {
	body, err := c.do(ctx, http.MethodGet, c.entityURL(serverID), nil)
	if err != nil {
		return nil, err
	}
	return decodeDTO(body)
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, payload json.RawMessage) (*DTO, error) {
	body, err := c.do(ctx, http.MethodPost, c.collectionURL(), payload)
	if err != nil {
		return nil, err
	}
	return decodeDTO(body)
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, serverID string, payload json.RawMessage) (*DTO, error) {
	body, err := c.do(ctx, http.MethodPut, c.entityURL(serverID), payload)
	if err != nil {
		return nil, err
	}
	return decodeDTO(body)
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, serverID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.entityURL(serverID), nil)
	return err
}

func (c *HTTPClient) collectionURL() string {
	return c.baseURL + "/" + c.resource
}

func (c *HTTPClient) entityURL(serverID string) string {
	return c.collectionURL() + "/" + url.PathEscape(serverID)
}

// do performs one request and maps failures onto the sync error taxonomy.
// Context cancellation surfaces unchanged so callers can tell a cancelled
// call from a failed one.
func (c *HTTPClient) do(ctx context.Context, method, target string, payload json.RawMessage) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, syncerrors.Network("building request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
		return nil, syncerrors.Network(fmt.Sprintf("%s %s", method, target), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerrors.Network("reading response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, syncerrors.Server(resp.StatusCode, msg)
	}

	return body, nil
}

// decodeDTO splits a server entity object into its id and opaque payload.
func decodeDTO(obj json.RawMessage) (*DTO, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(obj, &envelope); err != nil {
		return nil, syncerrors.Network("malformed entity response", err)
	}
	if envelope.ID == "" {
		return nil, syncerrors.Network("entity response missing id", nil)
	}
	return &DTO{
		ID:      envelope.ID,
		Payload: append(json.RawMessage(nil), obj...),
	}, nil
}
