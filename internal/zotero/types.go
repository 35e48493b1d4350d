// Package zotero provides a client for the Zotero Web API v3.
package zotero

import "encoding/json"

// Item is a Zotero item payload. Items start life as a server-provided
// template whose field set varies by item type, so they stay schemaless.
type Item map[string]any

// Clone returns a deep copy of the item, so cached templates can be handed
// out without aliasing.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Creator is one entry of an item's creators list. Institutional creators
// use the single Name field; personal creators use FirstName/LastName.
type Creator struct {
	CreatorType string `json:"creatorType"`
	Name        string `json:"name,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
}

// Tag is one entry of an item's tags list. Type 1 marks an automatic tag.
type Tag struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

// Collection is a Zotero collection.
type Collection struct {
	Key  string
	Name string
}

// collectionEnvelope is the wire shape of a collection listing entry.
type collectionEnvelope struct {
	Key  string `json:"key"`
	Data struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"data"`
}

// WriteError describes a per-item rejection in a write response.
type WriteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteResult is the per-position outcome of a multi-item write. Keys are
// decimal positions within the submitted batch.
type WriteResult struct {
	Success   map[string]string     `json:"success"`
	Unchanged map[string]string     `json:"unchanged"`
	Failed    map[string]WriteError `json:"failed"`
}

// uploadAuthorization is the response to a file upload authorization request.
type uploadAuthorization struct {
	Exists      json.Number `json:"exists"`
	URL         string      `json:"url"`
	ContentType string      `json:"contentType"`
	Prefix      string      `json:"prefix"`
	Suffix      string      `json:"suffix"`
	UploadKey   string      `json:"uploadKey"`
}
