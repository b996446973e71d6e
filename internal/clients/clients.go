package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"semaphore/portal/internal/store"
)

// ErrUnauthorized is returned for any 401 from the school API. Callers treat
// it as the end of the session.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer other than 401.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.Status, e.Code)
}

// Client talks to the school REST API on behalf of one portal process. The
// bearer token is passed per call since each session has its own.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse api base url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("api base url %q must be absolute", baseURL)
	}
	return &Client{baseURL: parsed, http: &http.Client{Timeout: timeout}}, nil
}

// resourcePaths maps store collection keys to API paths.
var resourcePaths = map[string]string{
	store.KeyCourses:    "/courses",
	store.KeyUsers:      "/users",
	store.KeyDocuments:  "/documents",
	store.KeyAttendance: "/attendance",
	store.KeySchedule:   "/schedule",
}

// Resources lists the collection keys the API can serve.
func Resources() []string {
	out := make([]string, 0, len(resourcePaths))
	for key := range resourcePaths {
		out = append(out, key)
	}
	return out
}

func resourcePath(key string) (string, error) {
	path, ok := resourcePaths[key]
	if !ok {
		return "", errors.Wrap(ErrUnknownResource, key)
	}
	return path, nil
}

var ErrUnknownResource = errors.New("unknown_resource")

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body, out interface{}) error {
	// path is already escaped by the caller.
	u, err := url.Parse(c.baseURL.String() + path)
	if err != nil {
		return errors.Wrap(err, "build url")
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: snake(http.StatusText(resp.StatusCode))}
	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		switch {
		case body.Code != "":
			apiErr.Code = body.Code
		case body.Error != "":
			apiErr.Code = body.Error
		}
		apiErr.Message = body.Message
	}
	return apiErr
}

func snake(text string) string {
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// list accepts both a bare JSON array and an envelope with a data field.
func (c *Client) list(ctx context.Context, token, path string, params url.Values) (store.Collection, error) {
	var raw json.RawMessage
	if err := c.do(ctx, token, http.MethodGet, path, params, nil, &raw); err != nil {
		return nil, err
	}
	return decodeCollection(raw)
}

func decodeCollection(raw json.RawMessage) (store.Collection, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return store.Collection{}, nil
	}
	if trimmed[0] != '[' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, errors.Wrap(err, "decode collection")
		}
		if len(envelope.Data) == 0 || envelope.Data[0] != '[' {
			return nil, errors.New("decode collection: no data array")
		}
		trimmed = envelope.Data
	}
	var items store.Collection
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, errors.Wrap(err, "decode collection")
	}
	return items, nil
}

// Collection fetches the collection behind a store key.
func (c *Client) Collection(ctx context.Context, token, key string, params url.Values) (store.Collection, error) {
	path, err := resourcePath(key)
	if err != nil {
		return nil, err
	}
	return c.list(ctx, token, path, params)
}

// Item fetches one entity of the collection behind key.
func (c *Client) Item(ctx context.Context, token, key, id string) (store.Entity, error) {
	path, err := resourcePath(key)
	if err != nil {
		return nil, err
	}
	var out store.Entity
	if err := c.do(ctx, token, http.MethodGet, path+"/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, token, key string, item store.Entity) (store.Entity, error) {
	path, err := resourcePath(key)
	if err != nil {
		return nil, err
	}
	if key == store.KeyDocuments {
		path += "/upload"
	}
	var out store.Entity
	if err := c.do(ctx, token, http.MethodPost, path, nil, item, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, token, key, id string, patch store.Entity) (store.Entity, error) {
	path, err := resourcePath(key)
	if err != nil {
		return nil, err
	}
	var out store.Entity
	if err := c.do(ctx, token, http.MethodPatch, path+"/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, token, key, id string) error {
	path, err := resourcePath(key)
	if err != nil {
		return err
	}
	return c.do(ctx, token, http.MethodDelete, path+"/"+url.PathEscape(id), nil, nil, nil)
}
