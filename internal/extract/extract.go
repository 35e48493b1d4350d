// Package extract maps Papers2 publication fields onto Zotero item fields.
//
// Each Zotero field name is bound to a Rule in the Rules table. A rule is
// evaluated against a publication plus an immutable run context and either
// produces a value of the field's shape or nil, in which case the Zotero
// template default is left untouched.
package extract

import (
	"fmt"
	"time"

	"github.com/matsen/papers2zotero/internal/papers"
	"github.com/matsen/papers2zotero/internal/zotero"
)

// KeywordFilter selects which keyword kinds become tags.
type KeywordFilter struct {
	User  bool
	Auto  bool
	Label bool
}

// Source answers sub-record queries for a publication. *papers.DB is the
// production implementation.
type Source interface {
	Bundle(pub *papers.Publication) (*papers.Publication, error)
	Authors(pub *papers.Publication) ([]papers.Author, error)
	Identifiers(pub *papers.Publication, sources ...papers.IDSource) ([]papers.Identifier, error)
	URLs(pub *papers.Publication) ([]string, error)
	Keywords(pub *papers.Publication, kind papers.KeywordKind) ([]papers.Keyword, error)
	Collections(pub *papers.Publication) ([]papers.Collection, error)
}

// Context carries the shared, read-only state every rule may consult.
type Context struct {
	// Source answers sub-record queries (authors, identifiers, keywords,
	// collections, bundles) for a publication.
	Source Source

	// Collections maps the source collection names selected for this run
	// to their Zotero collection keys. Empty means no collections were
	// selected, and the collections field is omitted entirely.
	Collections map[string]string

	// Keywords toggles which keyword kinds are merged into tags.
	Keywords KeywordFilter

	// LabelMap maps a color label name to the tag it contributes. A color
	// missing from the map (or mapped to "") contributes no tag.
	LabelMap map[string]string
}

// Rule produces a value for one Zotero field. A nil value means the field
// is omitted and the template default kept.
type Rule interface {
	Extract(pub *papers.Publication, ctx *Context) (any, error)
}

// Rules is the field table: Zotero field name to extraction rule. Only
// fields present in the item type's template are consulted, so it is safe
// for the table to cover the union of all item types.
var Rules = map[string]Rule{
	"DOI":                 direct(func(p *papers.Publication) string { return p.DOI }),
	"ISBN":                &identifierRule{sources: []papers.IDSource{papers.SourceISBN, papers.SourceISSN}},
	"abstractNote":        direct(func(p *papers.Publication) string { return p.Summary }),
	"accessDate":          &timestampRule{of: func(p *papers.Publication) int64 { return p.ImportedDate }},
	"collections":         collectionsRule{},
	"creators":            creatorsRule{},
	"date":                &pubdateRule{},
	"edition":             direct(func(p *papers.Publication) string { return p.Version }),
	"extra":               &identifierRule{sources: []papers.IDSource{papers.SourcePubmed, papers.SourcePMC}, prefix: "PMID: "},
	"issue":               direct(func(p *papers.Publication) string { return p.Number }),
	"journalAbbreviation": direct(func(p *papers.Publication) string { return p.BundleString }),
	"language":            direct(func(p *papers.Publication) string { return p.Language }),
	"number":              direct(func(p *papers.Publication) string { return p.DocumentNumber }),
	"pages":               rangeRule{},
	"numPages":            direct(func(p *papers.Publication) string { return p.StartPage }),
	"place":               direct(func(p *papers.Publication) string { return p.Place }),
	"publicationTitle":    bundleRule{},
	"publisher":           direct(func(p *papers.Publication) string { return p.Publisher }),
	"rights":              direct(func(p *papers.Publication) string { return p.Copyright }),
	"tags":                keywordsRule{},
	"title":               direct(func(p *papers.Publication) string { return p.Title }),
	"university":          bundleRule{},
	"url":                 urlRule{},
	"volume":              direct(func(p *papers.Publication) string { return p.Volume }),
}

// direct is a single-value accessor; empty strings omit the field.
type direct func(*papers.Publication) string

func (fn direct) Extract(pub *papers.Publication, _ *Context) (any, error) {
	if v := fn(pub); v != "" {
		return v, nil
	}
	return nil, nil
}

// rangeRule renders a page range as "start-end", and only when both bounds
// are present.
type rangeRule struct{}

func (rangeRule) Extract(pub *papers.Publication, _ *Context) (any, error) {
	if pub.StartPage == "" || pub.EndPage == "" {
		return nil, nil
	}
	return pub.StartPage + "-" + pub.EndPage, nil
}

// timestampRule renders a unix timestamp as an ISO-8601 UTC string.
type timestampRule struct {
	of func(*papers.Publication) int64
}

func (r *timestampRule) Extract(pub *papers.Publication, _ *Context) (any, error) {
	ts := r.of(pub)
	if ts == 0 {
		return nil, nil
	}
	return FormatTimestamp(ts), nil
}

// FormatTimestamp renders a unix timestamp the way Zotero expects dates:
// YYYY-MM-DDTHH:MM:SSZ.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02T15:04:05Z")
}

// pubdateRule decodes the packed Papers2 publication date code. The year
// sits at offset 2, month at 6, day at 8; a "00" month or day means
// unknown and renders as "01". A code holding only a year renders as the
// bare 4-digit year.
type pubdateRule struct{}

func (pubdateRule) Extract(pub *papers.Publication, _ *Context) (any, error) {
	code := pub.PublicationDate
	if len(code) < 6 {
		return nil, nil
	}

	date := code[2:6]
	if len(code) >= 8 {
		month := code[6:8]
		if month == "00" {
			month = "01"
		}
		date += "-" + month
		if len(code) >= 10 {
			day := code[8:10]
			if day == "00" {
				day = "01"
			}
			date += "-" + day
		}
	}
	return date, nil
}

// bundleRule resolves the parent container (journal, edited volume) by
// following the bundle link, falling back to the free-text bundle string.
type bundleRule struct{}

func (bundleRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	bundle, err := ctx.Source.Bundle(pub)
	if err != nil {
		return nil, err
	}
	if bundle != nil && bundle.Title != "" {
		return bundle.Title, nil
	}
	if pub.BundleString != "" {
		return pub.BundleString, nil
	}
	return nil, nil
}

// creatorsRule converts the ordered author list. Role 0 maps to "author"
// and 1 to "editor"; anything else is bad source data and fails the record.
type creatorsRule struct{}

func (creatorsRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	authors, err := ctx.Source.Authors(pub)
	if err != nil {
		return nil, err
	}

	creators := make([]zotero.Creator, 0, len(authors))
	for _, a := range authors {
		var role string
		switch a.Role {
		case 0:
			role = "author"
		case 1:
			role = "editor"
		default:
			return nil, fmt.Errorf("unsupported author role %d for %q", a.Role, a.Surname)
		}

		if a.Institutional > 0 {
			creators = append(creators, zotero.Creator{CreatorType: role, Name: a.Surname})
		} else {
			creators = append(creators, zotero.Creator{CreatorType: role, FirstName: a.Prename, LastName: a.Surname})
		}
	}
	if len(creators) == 0 {
		return nil, nil
	}
	return creators, nil
}

// identifierRule concatenates identifiers of the given sources and takes
// the first non-empty value, optionally prefixed with a fixed label.
type identifierRule struct {
	sources []papers.IDSource
	prefix  string
}

func (r *identifierRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	ids, err := ctx.Source.Identifiers(pub, r.sources...)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id.RemoteID != "" {
			return r.prefix + id.RemoteID, nil
		}
	}
	return nil, nil
}

// urlRule takes the most recently updated URL.
type urlRule struct{}

func (urlRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	urls, err := ctx.Source.URLs(pub)
	if err != nil {
		return nil, err
	}
	for _, u := range urls {
		if u != "" {
			return u, nil
		}
	}
	return nil, nil
}

// keywordsRule merges the enabled keyword kinds into one tag list. Auto
// keywords carry type 1, the marker Zotero uses for automatic tags.
type keywordsRule struct{}

func (keywordsRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	var tags []zotero.Tag

	if ctx.Keywords.User {
		kws, err := ctx.Source.Keywords(pub, papers.KeywordUser)
		if err != nil {
			return nil, err
		}
		for _, k := range kws {
			tags = append(tags, zotero.Tag{Tag: k.Name})
		}
	}

	if ctx.Keywords.Auto {
		kws, err := ctx.Source.Keywords(pub, papers.KeywordAuto)
		if err != nil {
			return nil, err
		}
		for _, k := range kws {
			tags = append(tags, zotero.Tag{Tag: k.Name, Type: 1})
		}
	}

	if ctx.Keywords.Label {
		label, err := papers.LabelFromCode(pub.Label)
		if err != nil {
			return nil, err
		}
		if tag := ctx.LabelMap[label.String()]; tag != "" {
			tags = append(tags, zotero.Tag{Tag: tag})
		}
	}

	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

// collectionsRule returns the Zotero keys of every selected collection the
// publication belongs to. With no collections selected for the run, the
// field is omitted entirely.
type collectionsRule struct{}

func (collectionsRule) Extract(pub *papers.Publication, ctx *Context) (any, error) {
	if len(ctx.Collections) == 0 {
		return nil, nil
	}

	cols, err := ctx.Source.Collections(pub)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, c := range cols {
		if key, ok := ctx.Collections[c.Name]; ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return keys, nil
}
