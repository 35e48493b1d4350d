package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("12345", "user", "key123", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, srv
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name        string
		libraryID   string
		libraryType string
		wantErr     bool
	}{
		{"user library", "12345", "user", false},
		{"group library", "67890", "group", false},
		{"missing id", "", "user", true},
		{"bad type", "12345", "shared", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.libraryID, tt.libraryType, "key")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestItemTemplateCached(t *testing.T) {
	requests := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.URL.Query().Get("itemType"); got != "journalArticle" {
			t.Errorf("itemType query = %q, want journalArticle", got)
		}
		if got := r.Header.Get("Zotero-API-Version"); got != "3" {
			t.Errorf("Zotero-API-Version = %q, want 3", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"itemType": "journalArticle", "title": ""})
	}))

	ctx := context.Background()
	tpl1, err := c.ItemTemplate(ctx, "journalArticle", "")
	if err != nil {
		t.Fatalf("ItemTemplate() error = %v", err)
	}
	tpl2, err := c.ItemTemplate(ctx, "journalArticle", "")
	if err != nil {
		t.Fatalf("ItemTemplate() error = %v", err)
	}
	if requests != 1 {
		t.Errorf("server requests = %d, want 1 (template cached)", requests)
	}

	// Handed-out templates must not alias the cache.
	tpl1["title"] = "changed"
	if tpl2["title"] != "" {
		t.Error("mutating one template copy leaked into another")
	}
}

func TestCreateItems(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/12345/items" {
			t.Errorf("path = %q, want /users/12345/items", r.URL.Path)
		}
		if got := r.Header.Get("Zotero-API-Key"); got != "key123" {
			t.Errorf("Zotero-API-Key = %q, want key123", got)
		}

		var items []Item
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if len(items) != 2 {
			t.Errorf("submitted items = %d, want 2", len(items))
		}
		if got := items[0]["parentItem"]; got != "PARENT" {
			t.Errorf("parentItem = %v, want PARENT", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"success": map[string]string{"0": "AAAA1111"},
			"failed": map[string]any{
				"1": map[string]any{"code": 400, "message": "bad creator"},
			},
		})
	}))

	res, err := c.CreateItems(context.Background(), []Item{
		{"title": "one"},
		{"title": "two"},
	}, "PARENT")
	if err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}
	if res.Success["0"] != "AAAA1111" {
		t.Errorf("Success[0] = %q, want AAAA1111", res.Success["0"])
	}
	if res.Failed["1"].Code != 400 {
		t.Errorf("Failed[1].Code = %d, want 400", res.Failed["1"].Code)
	}
	// Absent maps come back non-nil.
	if res.Unchanged == nil {
		t.Error("Unchanged = nil, want empty map")
	}
}

func TestCreateItemsAuthError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid key", http.StatusForbidden)
	}))

	_, err := c.CreateItems(context.Background(), []Item{{"title": "x"}}, "")
	if err == nil {
		t.Fatal("CreateItems() error = nil, want auth error")
	}
	if !IsAuthError(err) {
		t.Errorf("IsAuthError(%v) = false, want true", err)
	}
}

func TestRateLimitedError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := c.Collections(context.Background())
	if err == nil {
		t.Fatal("Collections() error = nil, want rate limit error")
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited(%v) = false, want true", err)
	}
	if IsAuthError(err) {
		t.Errorf("IsAuthError(%v) = true, want false", err)
	}
}

func TestCollectionsPagination(t *testing.T) {
	// Two full pages then a short one.
	total := 2*100 + 7
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := 0
		fmt.Sscan(r.URL.Query().Get("start"), &start)

		var page []map[string]any
		for i := start; i < total && i < start+100; i++ {
			page = append(page, map[string]any{
				"key": fmt.Sprintf("K%03d", i),
				"data": map[string]any{
					"key":  fmt.Sprintf("K%03d", i),
					"name": fmt.Sprintf("Collection %d", i),
				},
			})
		}
		json.NewEncoder(w).Encode(page)
	}))

	cols, err := c.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections() error = %v", err)
	}
	if len(cols) != total {
		t.Fatalf("len(Collections()) = %d, want %d", len(cols), total)
	}
	if cols[0].Key != "K000" || cols[0].Name != "Collection 0" {
		t.Errorf("first collection = %+v, want K000 / Collection 0", cols[0])
	}
	if cols[total-1].Key != fmt.Sprintf("K%03d", total-1) {
		t.Errorf("last collection key = %q, want K%03d", cols[total-1].Key, total-1)
	}
}

func TestCreateCollectionsFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"failed": map[string]any{
				"0": map[string]any{"code": 409, "message": "conflict"},
			},
		})
	}))

	if err := c.CreateCollections(context.Background(), []string{"Dup"}); err == nil {
		t.Fatal("CreateCollections() error = nil, want error for failed position")
	}
}

func TestItemClone(t *testing.T) {
	orig := Item{
		"title": "x",
		"creators": []any{
			map[string]any{"creatorType": "author", "lastName": "Doe"},
		},
		"data": map[string]any{"nested": "v"},
	}
	cp := orig.Clone()

	cp["title"] = "y"
	cp["creators"].([]any)[0].(map[string]any)["lastName"] = "Smith"
	cp["data"].(map[string]any)["nested"] = "w"

	if orig["title"] != "x" {
		t.Error("clone shares top-level values")
	}
	if got := orig["creators"].([]any)[0].(map[string]any)["lastName"]; got != "Doe" {
		t.Error("clone shares nested slice elements")
	}
	if got := orig["data"].(map[string]any)["nested"]; got != "v" {
		t.Error("clone shares nested maps")
	}
}
