package papers

// Publication is one bibliographic entry from the Papers2 Publication table.
// Rows are read-only for this tool; nothing writes back to the library.
type Publication struct {
	ID      int64 // ROWID, the stable identifier used by the checkpoint
	UUID    string
	Title   string
	Subtype int

	// Flags
	MarkedDeleted   bool
	MarkedDuplicate bool
	Manuscript      bool

	// Citation metadata
	Citekey        string
	DOI            string
	Summary        string // abstract
	Notes          string
	Rating         int
	TimesRead      int
	Label          int
	Version        string // edition
	Number         string // issue
	DocumentNumber string
	StartPage      string
	EndPage        string
	Place          string
	Publisher      string
	Copyright      string
	Volume         string
	Language       string

	// Bundle links a contained work (chapter, article) to its container
	// (book, journal). Stored as a string that usually holds a ROWID but
	// is sometimes free text or empty.
	Bundle       string
	BundleString string

	// PublicationDate is a packed Papers2 date code, e.g. "99200406011200...",
	// with the year at offset 2, month at 6 and day at 8.
	PublicationDate string

	// ImportedDate is a unix timestamp of when the record entered Papers2.
	ImportedDate int64
}

// Type resolves the publication's subtype code.
func (p *Publication) Type() (PubType, error) {
	return PubTypeFromCode(p.Subtype)
}

// Author is one row of the Author table joined with its ordering entry.
type Author struct {
	Prename       string
	Surname       string
	Fullname      string
	Institutional int
	// Role comes from OrderedAuthor.type: 0 = author, 1 = editor.
	Role int
}

// Identifier is an external id recorded as a Papers2 sync event.
type Identifier struct {
	Source   IDSource
	RemoteID string
}

// Keyword is a user- or auto-assigned keyword.
type Keyword struct {
	Name string
	Kind KeywordKind
}

// Collection is a Papers2 collection (manual or smart folder).
type Collection struct {
	ID   int64
	Name string
}

// Review is a user-authored review note with a star rating.
type Review struct {
	Content string
	Rating  int
}

// Attachment is one file belonging to a publication. Path is absolute,
// resolved against the library folder. Type is retained so the destination
// folder can be derived when relocating.
type Attachment struct {
	Path     string
	MIMEType string
	Type     PubType
}
