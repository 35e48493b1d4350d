package zotero

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the Zotero Web API base URL.
	BaseURL = "https://api.zotero.org"

	// APIVersion is the Zotero API version this client speaks.
	APIVersion = "3"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// RateLimit keeps us politely under Zotero's write limits.
	RateLimit = 5.0

	// collectionPageSize is the page size for collection listings.
	collectionPageSize = 100
)

// Client is a rate-limited HTTP client for one Zotero library.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	prefix     string // /users/<id> or /groups/<id>

	templates map[string]Item
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a client for the given library. libraryType is "user"
// or "group".
func NewClient(libraryID, libraryType, apiKey string, opts ...ClientOption) (*Client, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("zotero library ID is required")
	}
	if libraryType != "user" && libraryType != "group" {
		return nil, fmt.Errorf("invalid library type %q (want user or group)", libraryType)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(RateLimit), 1),
		apiKey:     apiKey,
		baseURL:    BaseURL,
		prefix:     "/" + libraryType + "s/" + libraryID,
		templates:  make(map[string]Item),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// do issues one rate-limited request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Zotero-API-Version", APIVersion)
	if c.apiKey != "" {
		req.Header.Set("Zotero-API-Key", c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zotero request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding zotero response: %w", err)
	}
	return nil
}

// ItemTemplate fetches the template for a new item of the given type.
// linkMode is only meaningful for attachment items ("linked_file",
// "imported_file"). Templates are cached per (type, linkMode).
func (c *Client) ItemTemplate(ctx context.Context, itemType, linkMode string) (Item, error) {
	cacheKey := itemType + "/" + linkMode
	if tpl, ok := c.templates[cacheKey]; ok {
		return tpl.Clone(), nil
	}

	q := url.Values{"itemType": {itemType}}
	if linkMode != "" {
		q.Set("linkMode", linkMode)
	}

	var tpl Item
	if err := c.do(ctx, http.MethodGet, "/items/new", q, nil, "", &tpl); err != nil {
		return nil, fmt.Errorf("fetching %s template: %w", itemType, err)
	}

	c.templates[cacheKey] = tpl
	return tpl.Clone(), nil
}

// CreateItems writes up to 50 items in one request and reports per-position
// success/unchanged/failed results. A non-empty parentKey makes every item
// a child of that item.
func (c *Client) CreateItems(ctx context.Context, items []Item, parentKey string) (*WriteResult, error) {
	if parentKey != "" {
		for _, it := range items {
			it["parentItem"] = parentKey
		}
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding items: %w", err)
	}

	var result WriteResult
	if err := c.do(ctx, http.MethodPost, c.prefix+"/items", nil, bytes.NewReader(payload), "application/json", &result); err != nil {
		return nil, fmt.Errorf("creating items: %w", err)
	}

	if result.Success == nil {
		result.Success = map[string]string{}
	}
	if result.Unchanged == nil {
		result.Unchanged = map[string]string{}
	}
	if result.Failed == nil {
		result.Failed = map[string]WriteError{}
	}
	return &result, nil
}

// Collections lists every collection in the library.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	var all []Collection
	start := 0
	for {
		q := url.Values{
			"start": {fmt.Sprint(start)},
			"limit": {fmt.Sprint(collectionPageSize)},
		}
		var page []collectionEnvelope
		if err := c.do(ctx, http.MethodGet, c.prefix+"/collections", q, nil, "", &page); err != nil {
			return nil, fmt.Errorf("listing collections: %w", err)
		}
		for _, env := range page {
			all = append(all, Collection{Key: env.Data.Key, Name: env.Data.Name})
		}
		if len(page) < collectionPageSize {
			return all, nil
		}
		start += len(page)
	}
}

// CreateCollections creates top-level collections with the given names.
func (c *Client) CreateCollections(ctx context.Context, names []string) error {
	payload := make([]map[string]string, len(names))
	for i, name := range names {
		payload[i] = map[string]string{"name": name}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding collections: %w", err)
	}

	var result WriteResult
	if err := c.do(ctx, http.MethodPost, c.prefix+"/collections", nil, bytes.NewReader(body), "application/json", &result); err != nil {
		return fmt.Errorf("creating collections: %w", err)
	}
	if len(result.Failed) > 0 {
		for pos, we := range result.Failed {
			return fmt.Errorf("creating collection (position %s): %s (code %d)", pos, we.Message, we.Code)
		}
	}
	return nil
}

// UploadAttachments uploads the files at the given paths as imported-file
// attachments under the parent item. Files the server already has are
// skipped without error.
func (c *Client) UploadAttachments(ctx context.Context, paths []string, parentKey string) error {
	tpl, err := c.ItemTemplate(ctx, "attachment", "imported_file")
	if err != nil {
		return err
	}

	for _, path := range paths {
		item := tpl.Clone()
		item["title"] = filepath.Base(path)
		item["filename"] = filepath.Base(path)

		result, err := c.CreateItems(ctx, []Item{item}, parentKey)
		if err != nil {
			return fmt.Errorf("creating attachment item for %s: %w", path, err)
		}
		key, ok := result.Success["0"]
		if !ok {
			if we, failed := result.Failed["0"]; failed {
				return fmt.Errorf("attachment item rejected for %s: %s (code %d)", path, we.Message, we.Code)
			}
			// Unchanged means the server already has it.
			continue
		}

		if err := c.uploadFile(ctx, key, path); err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
	}
	return nil
}

// uploadFile runs the authorize / upload / register dance for one file.
func (c *Client) uploadFile(ctx context.Context, itemKey, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stating attachment: %w", err)
	}

	sum := md5.Sum(data)
	form := url.Values{
		"md5":      {hex.EncodeToString(sum[:])},
		"filename": {filepath.Base(path)},
		"filesize": {fmt.Sprint(len(data))},
		"mtime":    {fmt.Sprint(info.ModTime().UnixMilli())},
	}

	var auth uploadAuthorization
	if err := c.doUpload(ctx, c.prefix+"/items/"+itemKey+"/file", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &auth); err != nil {
		return fmt.Errorf("authorizing upload: %w", err)
	}
	if auth.Exists.String() == "1" {
		return nil // server already has identical content
	}

	var body bytes.Buffer
	body.WriteString(auth.Prefix)
	body.Write(data)
	body.WriteString(auth.Suffix)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.URL, &body)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", auth.ContentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading file body: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: "file upload rejected"}
	}

	register := url.Values{"upload": {auth.UploadKey}}
	if err := c.doUpload(ctx, c.prefix+"/items/"+itemKey+"/file", strings.NewReader(register.Encode()), "application/x-www-form-urlencoded", nil); err != nil {
		return fmt.Errorf("registering upload: %w", err)
	}
	return nil
}

// doUpload is like do but sends If-None-Match, required by the file
// endpoints when no prior version of the file exists.
func (c *Client) doUpload(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Zotero-API-Version", APIVersion)
	req.Header.Set("Zotero-API-Key", c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("If-None-Match", "*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zotero request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding zotero response: %w", err)
	}
	return nil
}
