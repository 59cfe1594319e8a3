// Package firebase is a store.Store over the Firebase Realtime Database
// REST API.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bonecraft.ai/internal/persistence/store"
)

const (
	headerETag        = "ETag"
	headerRequestETag = "X-Firebase-ETag"
	headerIfMatch     = "if-match"

	// nullETag is the ETag the database reports for a path with no value.
	nullETag = "null_etag"

	// maxCASAttempts bounds the conditional-write retry loop.
	maxCASAttempts = 16
)

type Client struct {
	base       string
	auth       string
	httpClient *http.Client
}

var _ store.Store = (*Client)(nil)

// New returns a client for the database at baseURL. auth, when set, is sent
// as the ?auth= query parameter.
func New(baseURL, auth string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("firebase: empty base url")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:       strings.TrimRight(u.String(), "/"),
		auth:       strings.TrimSpace(auth),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) url(segs []string, query url.Values) string {
	esc := make([]string, len(segs))
	for i, s := range segs {
		esc[i] = url.PathEscape(s)
	}
	u := c.base + "/" + strings.Join(esc, "/") + ".json"
	if query == nil {
		query = url.Values{}
	}
	if c.auth != "" {
		query.Set("auth", c.auth)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

type response struct {
	status int
	etag   string
	body   []byte
}

func (c *Client) do(ctx context.Context, method string, segs []string, query url.Values, body any, hdr map[string]string) (response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response{}, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(segs, query), rd)
	if err != nil {
		return response{}, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return response{}, err
	}
	out := response{status: resp.StatusCode, etag: resp.Header.Get(headerETag), body: b}
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusPreconditionFailed {
		return out, fmt.Errorf("firebase %s %s: status %d: %s", method, strings.Join(segs, "/"), resp.StatusCode, errorMessage(b))
	}
	return out, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodGet, segs, nil, nil, nil)
	if err != nil {
		return store.Unavailable("get", path, err)
	}
	tree, err := store.Parse(resp.body)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if tree == nil {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return store.Decode(tree, out)
}

func (c *Client) Put(ctx context.Context, path string, v any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	if v == nil {
		return c.Delete(ctx, path)
	}
	_, err = c.do(ctx, http.MethodPut, segs, url.Values{"print": {"silent"}}, v, nil)
	return store.Unavailable("put", path, err)
}

// Create writes v with an if-match on the empty-value ETag, so the write
// only lands while the path is still empty.
func (c *Client) Create(ctx context.Context, path string, v any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%w: create of empty value at %s", store.ErrBadPath, path)
	}
	resp, err := c.do(ctx, http.MethodPut, segs, url.Values{"print": {"silent"}}, v, map[string]string{headerIfMatch: nullETag})
	if err != nil {
		return store.Unavailable("create", path, err)
	}
	if resp.status == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %s", store.ErrExists, path)
	}
	return nil
}

func (c *Client) Patch(ctx context.Context, path string, fields map[string]any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	for k := range fields {
		if k == "" || strings.Contains(k, "/") {
			return fmt.Errorf("%w: patch key %q", store.ErrBadPath, k)
		}
	}
	_, err = c.do(ctx, http.MethodPatch, segs, url.Values{"print": {"silent"}}, fields, nil)
	return store.Unavailable("patch", path, err)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, segs, nil, nil, nil)
	return store.Unavailable("delete", path, err)
}

func (c *Client) Post(ctx context.Context, collection string, v any) (string, error) {
	segs, err := store.Split(collection)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, segs, nil, v, nil)
	if err != nil {
		return "", store.Unavailable("post", collection, err)
	}
	var created struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil || created.Name == "" {
		return "", store.Unavailable("post", collection, fmt.Errorf("bad push response %q", resp.body))
	}
	return created.Name, nil
}

// readETag fetches the value at segs together with its ETag.
func (c *Client) readETag(ctx context.Context, segs []string) (any, string, error) {
	resp, err := c.do(ctx, http.MethodGet, segs, nil, nil, map[string]string{headerRequestETag: "true"})
	if err != nil {
		return nil, "", err
	}
	tree, err := store.Parse(resp.body)
	if err != nil {
		return nil, "", err
	}
	return tree, resp.etag, nil
}

// Take deletes the value only if it still matches the ETag it was read
// with. A 412 means another writer got there first; the loop re-reads and
// reports ErrNotFound once the value is gone.
func (c *Client) Take(ctx context.Context, path string, out any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		tree, etag, err := c.readETag(ctx, segs)
		if err != nil {
			return store.Unavailable("take", path, err)
		}
		if tree == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		resp, err := c.do(ctx, http.MethodDelete, segs, nil, nil, map[string]string{headerIfMatch: etag})
		if err != nil {
			return store.Unavailable("take", path, err)
		}
		if resp.status == http.StatusPreconditionFailed {
			continue
		}
		return store.Decode(tree, out)
	}
	return store.Unavailable("take", path, errors.New("too much contention"))
}

func (c *Client) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	segs, err := store.Split(path)
	if err != nil {
		return 0, err
	}
	if len(segs) < 3 {
		return 0, fmt.Errorf("%w: increment needs a field inside a document: %s", store.ErrBadPath, path)
	}
	doc, err := c.do(ctx, http.MethodGet, segs[:2], url.Values{"shallow": {"true"}}, nil, nil)
	if err != nil {
		return 0, store.Unavailable("increment", path, err)
	}
	if bytes.Equal(bytes.TrimSpace(doc.body), []byte("null")) {
		return 0, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}

	tree, etag, err := c.readETag(ctx, segs)
	if err != nil {
		return 0, store.Unavailable("increment", path, err)
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := store.Int64(tree)
		if err != nil {
			return 0, err
		}
		next := cur + delta
		resp, err := c.do(ctx, http.MethodPut, segs, nil, json.Number(strconv.FormatInt(next, 10)), map[string]string{headerIfMatch: etag})
		if err != nil {
			return 0, store.Unavailable("increment", path, err)
		}
		if resp.status != http.StatusPreconditionFailed {
			return next, nil
		}
		// 412 carries the current value and its ETag.
		if tree, err = store.Parse(resp.body); err != nil {
			return 0, store.Unavailable("increment", path, err)
		}
		etag = resp.etag
	}
	return 0, store.Unavailable("increment", path, errors.New("too much contention"))
}
