package extract

import (
	"reflect"
	"testing"

	"github.com/matsen/papers2zotero/internal/papers"
	"github.com/matsen/papers2zotero/internal/zotero"
)

// fakeSource answers sub-record queries from fixed data.
type fakeSource struct {
	bundle      *papers.Publication
	authors     []papers.Author
	identifiers map[papers.IDSource]string
	urls        []string
	userKws     []papers.Keyword
	autoKws     []papers.Keyword
	collections []papers.Collection
}

func (f *fakeSource) Bundle(*papers.Publication) (*papers.Publication, error) {
	return f.bundle, nil
}

func (f *fakeSource) Authors(*papers.Publication) ([]papers.Author, error) {
	return f.authors, nil
}

func (f *fakeSource) Identifiers(_ *papers.Publication, sources ...papers.IDSource) ([]papers.Identifier, error) {
	var out []papers.Identifier
	for _, s := range sources {
		if id, ok := f.identifiers[s]; ok {
			out = append(out, papers.Identifier{Source: s, RemoteID: id})
		}
	}
	return out, nil
}

func (f *fakeSource) URLs(*papers.Publication) ([]string, error) {
	return f.urls, nil
}

func (f *fakeSource) Keywords(_ *papers.Publication, kind papers.KeywordKind) ([]papers.Keyword, error) {
	if kind == papers.KeywordUser {
		return f.userKws, nil
	}
	return f.autoKws, nil
}

func (f *fakeSource) Collections(*papers.Publication) ([]papers.Collection, error) {
	return f.collections, nil
}

func extractField(t *testing.T, field string, pub *papers.Publication, ctx *Context) any {
	t.Helper()
	rule, ok := Rules[field]
	if !ok {
		t.Fatalf("Rules[%q] missing", field)
	}
	got, err := rule.Extract(pub, ctx)
	if err != nil {
		t.Fatalf("Extract(%q) error = %v", field, err)
	}
	return got
}

func TestPageRange(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  any
	}{
		{"both bounds", "10", "15", "10-15"},
		{"missing end", "10", "", nil},
		{"missing start", "", "15", nil},
		{"neither", "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &papers.Publication{StartPage: tt.start, EndPage: tt.end}
			got := extractField(t, "pages", pub, &Context{})
			if got != tt.want {
				t.Errorf("pages = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccessDate(t *testing.T) {
	pub := &papers.Publication{ImportedDate: 1357257600}
	got := extractField(t, "accessDate", pub, &Context{})
	if got != "2013-01-04T00:00:00Z" {
		t.Errorf("accessDate = %v, want 2013-01-04T00:00:00Z", got)
	}

	pub = &papers.Publication{}
	if got := extractField(t, "accessDate", pub, &Context{}); got != nil {
		t.Errorf("accessDate for zero timestamp = %v, want nil", got)
	}
}

func TestPublicationDate(t *testing.T) {
	tests := []struct {
		name string
		code string
		want any
	}{
		{"full date", "992004060112000000000000222000", "2004-06-01"},
		{"unknown month", "992004000112000000000000222000", "2004-01-01"},
		{"unknown day", "992004060012000000000000222000", "2004-06-01"},
		{"year only", "992004", "2004"},
		{"year and month", "99200406", "2004-06"},
		{"too short", "9920", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &papers.Publication{PublicationDate: tt.code}
			got := extractField(t, "date", pub, &Context{})
			if got != tt.want {
				t.Errorf("date = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreators(t *testing.T) {
	src := &fakeSource{authors: []papers.Author{
		{Prename: "Jane", Surname: "Doe", Role: 0},
		{Prename: "John", Surname: "Smith", Role: 1},
		{Surname: "The Modern Language Association", Institutional: 1, Role: 0},
	}}
	got := extractField(t, "creators", &papers.Publication{}, &Context{Source: src})

	want := []zotero.Creator{
		{CreatorType: "author", FirstName: "Jane", LastName: "Doe"},
		{CreatorType: "editor", FirstName: "John", LastName: "Smith"},
		{CreatorType: "author", Name: "The Modern Language Association"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("creators = %+v, want %+v", got, want)
	}
}

func TestCreatorsUnsupportedRole(t *testing.T) {
	src := &fakeSource{authors: []papers.Author{
		{Surname: "Doe", Role: 3},
	}}
	_, err := Rules["creators"].Extract(&papers.Publication{}, &Context{Source: src})
	if err == nil {
		t.Fatal("Extract(creators) error = nil, want error for role 3")
	}
}

func TestCreatorsEmpty(t *testing.T) {
	src := &fakeSource{}
	if got := extractField(t, "creators", &papers.Publication{}, &Context{Source: src}); got != nil {
		t.Errorf("creators with no authors = %v, want nil", got)
	}
}

func TestIdentifierExtra(t *testing.T) {
	src := &fakeSource{identifiers: map[papers.IDSource]string{
		papers.SourcePubmed: "15572471",
	}}
	got := extractField(t, "extra", &papers.Publication{}, &Context{Source: src})
	if got != "PMID: 15572471" {
		t.Errorf("extra = %v, want PMID: 15572471", got)
	}

	if got := extractField(t, "extra", &papers.Publication{}, &Context{Source: &fakeSource{}}); got != nil {
		t.Errorf("extra with no identifiers = %v, want nil", got)
	}
}

func TestISBNFallsBackToISSN(t *testing.T) {
	src := &fakeSource{identifiers: map[papers.IDSource]string{
		papers.SourceISSN: "0028-0836",
	}}
	got := extractField(t, "ISBN", &papers.Publication{}, &Context{Source: src})
	if got != "0028-0836" {
		t.Errorf("ISBN = %v, want 0028-0836", got)
	}
}

func TestBundleTitle(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		pub  *papers.Publication
		want any
	}{
		{
			name: "linked bundle wins",
			src:  &fakeSource{bundle: &papers.Publication{Title: "Nature"}},
			pub:  &papers.Publication{BundleString: "Nat."},
			want: "Nature",
		},
		{
			name: "fallback to bundle string",
			src:  &fakeSource{},
			pub:  &papers.Publication{BundleString: "Nat."},
			want: "Nat.",
		},
		{
			name: "nothing",
			src:  &fakeSource{},
			pub:  &papers.Publication{},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractField(t, "publicationTitle", tt.pub, &Context{Source: tt.src})
			if got != tt.want {
				t.Errorf("publicationTitle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordTags(t *testing.T) {
	src := &fakeSource{
		userKws: []papers.Keyword{{Name: "immunology"}, {Name: "phylogenetics"}},
		autoKws: []papers.Keyword{{Name: "bcr"}},
	}
	ctx := &Context{
		Source:   src,
		Keywords: KeywordFilter{User: true, Auto: true, Label: true},
		LabelMap: map[string]string{"Red": "hot", "None": ""},
	}
	pub := &papers.Publication{Label: int(papers.LabelRed)}

	got := extractField(t, "tags", pub, ctx)
	want := []zotero.Tag{
		{Tag: "immunology"},
		{Tag: "phylogenetics"},
		{Tag: "bcr", Type: 1},
		{Tag: "hot"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %+v, want %+v", got, want)
	}
}

func TestKeywordTagsFiltered(t *testing.T) {
	src := &fakeSource{
		userKws: []papers.Keyword{{Name: "immunology"}},
		autoKws: []papers.Keyword{{Name: "bcr"}},
	}
	ctx := &Context{Source: src, Keywords: KeywordFilter{User: true}}

	got := extractField(t, "tags", &papers.Publication{}, ctx)
	want := []zotero.Tag{{Tag: "immunology"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %+v, want %+v", got, want)
	}
}

func TestLabelWithoutMapping(t *testing.T) {
	ctx := &Context{
		Source:   &fakeSource{},
		Keywords: KeywordFilter{Label: true},
		LabelMap: map[string]string{"None": ""},
	}
	pub := &papers.Publication{Label: int(papers.LabelNone)}
	if got := extractField(t, "tags", pub, ctx); got != nil {
		t.Errorf("tags for unmapped label = %v, want nil", got)
	}
}

func TestCollections(t *testing.T) {
	src := &fakeSource{collections: []papers.Collection{
		{ID: 1, Name: "Reading List"},
		{ID: 2, Name: "Archive"},
	}}

	t.Run("selected memberships map to keys", func(t *testing.T) {
		ctx := &Context{
			Source:      src,
			Collections: map[string]string{"Reading List": "KEY1"},
		}
		got := extractField(t, "collections", &papers.Publication{}, ctx)
		want := []string{"KEY1"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("collections = %v, want %v", got, want)
		}
	})

	t.Run("no collections selected omits the field", func(t *testing.T) {
		ctx := &Context{Source: src, Collections: map[string]string{}}
		if got := extractField(t, "collections", &papers.Publication{}, ctx); got != nil {
			t.Errorf("collections = %v, want nil", got)
		}
	})

	t.Run("no matching membership omits the field", func(t *testing.T) {
		ctx := &Context{
			Source:      src,
			Collections: map[string]string{"Other": "KEY9"},
		}
		if got := extractField(t, "collections", &papers.Publication{}, ctx); got != nil {
			t.Errorf("collections = %v, want nil", got)
		}
	})
}

func TestURL(t *testing.T) {
	src := &fakeSource{urls: []string{"https://example.org/paper", "https://old.example.org"}}
	got := extractField(t, "url", &papers.Publication{}, &Context{Source: src})
	if got != "https://example.org/paper" {
		t.Errorf("url = %v, want https://example.org/paper", got)
	}
}

func TestDirectFieldsOmitEmpty(t *testing.T) {
	pub := &papers.Publication{Title: "On Trees", Volume: ""}
	if got := extractField(t, "title", pub, &Context{}); got != "On Trees" {
		t.Errorf("title = %v, want On Trees", got)
	}
	if got := extractField(t, "volume", pub, &Context{}); got != nil {
		t.Errorf("volume = %v, want nil", got)
	}
}
