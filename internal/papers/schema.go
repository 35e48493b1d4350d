// Package papers provides read-only access to a Papers2 library database.
package papers

import "fmt"

// PubType identifies a Papers2 publication subtype.
type PubType int

// Papers2 subtype codes. Not an exhaustive list of every code Papers2 ever
// produced, but every code this tool knows how to migrate. Unknown codes
// fail loudly at lookup rather than being silently mapped.
const (
	Book              PubType = 0
	BookSection       PubType = -1000
	Thesis            PubType = 10
	EBook             PubType = 20
	Pamphlet          PubType = 30
	Website           PubType = 300
	Poster            PubType = 313
	Presentation      PubType = 314
	Abstract          PubType = 315
	Lecture           PubType = 319
	Photo             PubType = 325
	Software          PubType = 341
	DataFile          PubType = 345
	JournalArticle    PubType = 400
	MagazineArticle   PubType = 401
	NewspaperArticle  PubType = 402
	WebsiteArticle    PubType = 403
	Manuscript        PubType = 410
	Preprint          PubType = 415
	ConferencePaper   PubType = 420
	Patent            PubType = 500
	Report            PubType = 700
	TechReport        PubType = 701
	ScientificReport  PubType = 702
	Grant             PubType = 703
	Assignment        PubType = 704
	ReferenceMaterial PubType = 713
	Protocol          PubType = 717
)

// pubTypeNames maps each known subtype to its display name.
var pubTypeNames = map[PubType]string{
	Book:              "Book",
	BookSection:       "Book Section",
	Thesis:            "Thesis",
	EBook:             "eBook",
	Pamphlet:          "Pamphlet",
	Website:           "Website",
	Poster:            "Poster",
	Presentation:      "Presentation",
	Abstract:          "Abstract",
	Lecture:           "Lecture",
	Photo:             "Photo",
	Software:          "Software",
	DataFile:          "Data File",
	JournalArticle:    "Journal Article",
	MagazineArticle:   "Magazine Article",
	NewspaperArticle:  "Newspaper Article",
	WebsiteArticle:    "Website Article",
	Manuscript:        "Manuscript",
	Preprint:          "Preprint",
	ConferencePaper:   "Conference Paper",
	Patent:            "Patent",
	Report:            "Report",
	TechReport:        "Technical Report",
	ScientificReport:  "Scientific Report",
	Grant:             "Grant",
	Assignment:        "Assignment",
	ReferenceMaterial: "Reference",
	Protocol:          "Protocol",
}

// PubTypeFromCode resolves a raw subtype code to a PubType.
// Unknown codes are a data error, not something to paper over.
func PubTypeFromCode(code int) (PubType, error) {
	pt := PubType(code)
	if _, ok := pubTypeNames[pt]; !ok {
		return 0, fmt.Errorf("unknown publication subtype code %d", code)
	}
	return pt, nil
}

// KnownTypeCodes returns every subtype code this package recognizes,
// for use in query filters.
func KnownTypeCodes() []int {
	codes := make([]int, 0, len(pubTypeNames))
	for pt := range pubTypeNames {
		codes = append(codes, int(pt))
	}
	return codes
}

func (t PubType) String() string {
	if name, ok := pubTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PubType(%d)", int(t))
}

// IDSource identifies the origin of an external identifier stored in the
// Papers2 sync_events table.
type IDSource string

const (
	SourcePubmed IDSource = "gov.nih.nlm.ncbi.pubmed"
	SourcePMC    IDSource = "gov.nih.nlm.ncbi.pmc"
	SourceISBN   IDSource = "org.iso.isbn"
	SourceISSN   IDSource = "org.iso.issn"
	SourceUser   IDSource = "com.mekentosj.papers2.user"
)

// KeywordKind distinguishes user-assigned keywords from automatic ones.
type KeywordKind int

const (
	KeywordAuto KeywordKind = 0
	KeywordUser KeywordKind = 99
)

// Label is a Papers2 color label code.
type Label int

const (
	LabelNone Label = iota
	LabelRed
	LabelOrange
	LabelYellow
	LabelGreen
	LabelBlue
	LabelPurple
	LabelGray
)

var labelNames = map[Label]string{
	LabelNone:   "None",
	LabelRed:    "Red",
	LabelOrange: "Orange",
	LabelYellow: "Yellow",
	LabelGreen:  "Green",
	LabelBlue:   "Blue",
	LabelPurple: "Purple",
	LabelGray:   "Gray",
}

// LabelFromCode resolves a raw label code to a Label.
func LabelFromCode(code int) (Label, error) {
	l := Label(code)
	if _, ok := labelNames[l]; !ok {
		return 0, fmt.Errorf("unknown label code %d", code)
	}
	return l, nil
}

// LabelNames returns the names of all label colors, including "None".
func LabelNames() []string {
	names := make([]string, 0, len(labelNames))
	for l := LabelNone; l <= LabelGray; l++ {
		names = append(names, labelNames[l])
	}
	return names
}

func (l Label) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Label(%d)", int(l))
}
