package papers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// DB is a read-only handle to a Papers2 library database.
type DB struct {
	db     *sql.DB
	folder string

	// Bundle rows are shared by many publications, so cache them.
	bundleCache map[string]*Publication
}

// Open opens the Papers2 database under the given library folder.
// The database lives at <folder>/Library.papers2/Database.papersdb.
func Open(folder string) (*DB, error) {
	folder = expandTilde(folder)
	path := filepath.Join(folder, "Library.papers2", "Database.papersdb")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("papers2 database not found: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening papers2 database: %w", err)
	}

	// Read-only workload, a single connection is plenty.
	db.SetMaxOpenConns(1)

	return &DB{db: db, folder: folder, bundleCache: make(map[string]*Publication)}, nil
}

// openExisting wraps an already-open database handle. Used by tests.
func openExisting(db *sql.DB, folder string) *DB {
	return &DB{db: db, folder: folder, bundleCache: make(map[string]*Publication)}
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Folder returns the library folder the database was opened from.
// Attachment paths are stored relative to it.
func (d *DB) Folder() string {
	return d.folder
}

// Filter restricts which publications a query returns. Duplicates are
// included by default: a Papers2 duplicate flag marks a merge candidate,
// not a record to drop.
type Filter struct {
	IDs                []int64   // explicit ROWIDs; empty means all
	Author             string    // substring match on the full author string
	Types              []PubType // empty means every known type
	IncludeDeleted     bool
	ExcludeDuplicates  bool
	IncludeManuscripts bool
}

var pubColumns = []string{
	"ROWID", "uuid", "title", "subtype",
	"marked_deleted", "marked_duplicate", "manuscript",
	"citekey", "doi", "summary", "notes", "rating", "times_read", "label",
	"version", "number", "document_number", "startpage", "endpage",
	"place", "publisher", "copyright", "volume", "language",
	"bundle", "bundle_string", "publication_date", "imported_date",
}

func pubSelect(f Filter) sq.SelectBuilder {
	q := sq.Select(pubColumns...).From("Publication")

	if len(f.IDs) > 0 {
		ids := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		q = q.Where(sq.Eq{"ROWID": ids})
	}
	if f.Author != "" {
		q = q.Where(sq.Like{"full_author_string": "%" + f.Author + "%"})
	}

	if len(f.Types) > 0 {
		codes := make([]any, len(f.Types))
		for i, t := range f.Types {
			codes[i] = int(t)
		}
		q = q.Where(sq.Eq{"subtype": codes})
	} else {
		codes := KnownTypeCodes()
		vals := make([]any, len(codes))
		for i, c := range codes {
			vals[i] = c
		}
		q = q.Where(sq.Eq{"subtype": vals})
	}

	if !f.IncludeDeleted {
		q = q.Where(sq.Eq{"marked_deleted": 0})
	}
	if f.ExcludeDuplicates {
		q = q.Where(sq.Eq{"marked_duplicate": 0})
	}
	if !f.IncludeManuscripts {
		q = q.Where(sq.Eq{"manuscript": 0})
	}

	return q
}

// Publications returns all publications matching the filter, in ROWID order.
func (d *DB) Publications(f Filter) ([]*Publication, error) {
	query, args, err := pubSelect(f).OrderBy("ROWID").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building publication query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying publications: %w", err)
	}
	defer rows.Close()

	var pubs []*Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// CountPublications returns the number of publications matching the filter.
func (d *DB) CountPublications(f Filter) (int, error) {
	query, args, err := pubSelect(f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	row := d.db.QueryRow("SELECT COUNT(*) FROM ("+query+")", args...)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting publications: %w", err)
	}
	return n, nil
}

// Publication fetches a single publication by ROWID.
func (d *DB) Publication(id int64) (*Publication, error) {
	query, args, err := sq.Select(pubColumns...).
		From("Publication").
		Where(sq.Eq{"ROWID": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building publication query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying publication %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("publication %d not found", id)
	}
	return scanPublication(rows)
}

// Bundle follows a publication's bundle link to its container (the journal
// a paper appeared in, the book a chapter belongs to). Returns nil without
// error when the link is absent, non-numeric, or dangling; callers fall
// back to the free-text bundle string.
func (d *DB) Bundle(pub *Publication) (*Publication, error) {
	id, err := strconv.ParseInt(pub.Bundle, 10, 64)
	if err != nil {
		return nil, nil
	}
	if cached, ok := d.bundleCache[pub.Bundle]; ok {
		return cached, nil
	}
	bundle, err := d.Publication(id)
	if err != nil {
		// Dangling link.
		d.bundleCache[pub.Bundle] = nil
		return nil, nil
	}
	d.bundleCache[pub.Bundle] = bundle
	return bundle, nil
}

// Authors returns a publication's authors in citation order.
func (d *DB) Authors(pub *Publication) ([]Author, error) {
	query, args, err := sq.Select(
		"Author.prename", "Author.surname", "Author.fullname",
		"Author.institutional", "OrderedAuthor.type").
		From("Author").
		Join("OrderedAuthor ON Author.ROWID = OrderedAuthor.author_id").
		Where(sq.Eq{"OrderedAuthor.object_id": pub.ID}).
		OrderBy("OrderedAuthor.priority").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building author query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying authors for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var authors []Author
	for rows.Next() {
		var a Author
		var prename, surname, fullname sql.NullString
		if err := rows.Scan(&prename, &surname, &fullname, &a.Institutional, &a.Role); err != nil {
			return nil, fmt.Errorf("scanning author: %w", err)
		}
		a.Prename = prename.String
		a.Surname = surname.String
		a.Fullname = fullname.String
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

// Identifiers returns external ids of the given sources, recorded as sync
// events against the publication's UUID. Results come back in the order
// the sources were given: callers encode precedence in that order (Pubmed
// before PMC, ISBN before ISSN) and take the first usable value.
func (d *DB) Identifiers(pub *Publication, sources ...IDSource) ([]Identifier, error) {
	srcs := make([]any, len(sources))
	rank := make(map[IDSource]int, len(sources))
	for i, s := range sources {
		srcs[i] = string(s)
		rank[s] = i
	}

	query, args, err := sq.Select("source_id", "remote_id").
		From("SyncEvent").
		Where(sq.Eq{"device_id": pub.UUID}).
		Where(sq.Eq{"source_id": srcs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building identifier query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying identifiers for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var ids []Identifier
	for rows.Next() {
		var src, remote sql.NullString
		if err := rows.Scan(&src, &remote); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		ids = append(ids, Identifier{Source: IDSource(src.String), RemoteID: remote.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(ids, func(a, b Identifier) int {
		return rank[a.Source] - rank[b.Source]
	})
	return ids, nil
}

// URLs returns http(s) remote ids for the publication, most recent first.
func (d *DB) URLs(pub *Publication) ([]string, error) {
	query, args, err := sq.Select("remote_id").
		From("SyncEvent").
		Where(sq.Eq{"device_id": pub.UUID}).
		Where(sq.Like{"remote_id": "http%"}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building url query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying urls for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u sql.NullString
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning url: %w", err)
		}
		urls = append(urls, u.String)
	}
	return urls, rows.Err()
}

// Keywords returns the publication's keywords of the given kind.
func (d *DB) Keywords(pub *Publication, kind KeywordKind) ([]Keyword, error) {
	query, args, err := sq.Select("Keyword.name", "KeywordItem.type").
		From("Keyword").
		Join("KeywordItem ON Keyword.ROWID = KeywordItem.keyword_id").
		Where(sq.Eq{"KeywordItem.object_id": pub.ID}).
		Where(sq.Eq{"KeywordItem.type": int(kind)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building keyword query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying keywords for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var kws []Keyword
	for rows.Next() {
		var k Keyword
		var kindCode int
		if err := rows.Scan(&k.Name, &kindCode); err != nil {
			return nil, fmt.Errorf("scanning keyword: %w", err)
		}
		k.Kind = KeywordKind(kindCode)
		kws = append(kws, k)
	}
	return kws, rows.Err()
}

// collectionSelect matches manual collections and smart folders (types 0
// and 5); the remaining collection types are Papers2 internals.
func collectionSelect() sq.SelectBuilder {
	return sq.Select("Collection.ROWID", "Collection.name").
		From("Collection").
		Where(sq.Eq{"Collection.type": []any{0, 5}})
}

// AllCollections returns every user-visible collection in the library.
func (d *DB) AllCollections() ([]Collection, error) {
	return d.queryCollections(collectionSelect())
}

// Collections returns the collections the publication belongs to.
func (d *DB) Collections(pub *Publication) ([]Collection, error) {
	q := collectionSelect().
		Join("CollectionItem ON Collection.ROWID = CollectionItem.collection").
		Where(sq.Eq{"CollectionItem.object_id": pub.ID})
	return d.queryCollections(q)
}

func (d *DB) queryCollections(q sq.SelectBuilder) ([]Collection, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building collection query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var cols []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Reviews returns the publication's reviews. With mineOnly set, only
// reviews authored by the library owner are returned.
func (d *DB) Reviews(pub *Publication, mineOnly bool) ([]Review, error) {
	q := sq.Select("content", "rating").
		From("Review").
		Where(sq.Eq{"object_id": pub.ID})
	if mineOnly {
		q = q.Where(sq.Eq{"is_mine": 1})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building review query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reviews for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var content sql.NullString
		if err := rows.Scan(&content, &r.Rating); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		r.Content = content.String
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// Attachments returns the publication's files with the primary attachment
// first. Paths are resolved against the library folder; rows without a
// path are dropped.
func (d *DB) Attachments(pub *Publication) ([]Attachment, error) {
	ptype, err := pub.Type()
	if err != nil {
		return nil, err
	}

	query, args, err := sq.Select("path", "mime_type").
		From("PDF").
		Where(sq.Eq{"object_id": pub.ID}).
		OrderBy("is_primary DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building attachment query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for %d: %w", pub.ID, err)
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var path, mime sql.NullString
		if err := rows.Scan(&path, &mime); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		if !path.Valid || path.String == "" {
			continue
		}
		atts = append(atts, Attachment{
			Path:     filepath.Join(d.folder, path.String),
			MIMEType: mime.String,
			Type:     ptype,
		})
	}
	return atts, rows.Err()
}

func scanPublication(rows *sql.Rows) (*Publication, error) {
	var p Publication
	var (
		uuid, title, citekey, doi, summary, notes           sql.NullString
		version, number, documentNumber, startPage, endPage sql.NullString
		place, publisher, copyright, volume, language       sql.NullString
		bundle, bundleString, publicationDate               sql.NullString
		rating, timesRead, label                            sql.NullInt64
		importedDate                                        sql.NullInt64
		deleted, duplicate, manuscript                      sql.NullInt64
	)

	err := rows.Scan(
		&p.ID, &uuid, &title, &p.Subtype,
		&deleted, &duplicate, &manuscript,
		&citekey, &doi, &summary, &notes, &rating, &timesRead, &label,
		&version, &number, &documentNumber, &startPage, &endPage,
		&place, &publisher, &copyright, &volume, &language,
		&bundle, &bundleString, &publicationDate, &importedDate,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning publication: %w", err)
	}

	p.UUID = uuid.String
	p.Title = title.String
	p.MarkedDeleted = deleted.Int64 != 0
	p.MarkedDuplicate = duplicate.Int64 != 0
	p.Manuscript = manuscript.Int64 != 0
	p.Citekey = citekey.String
	p.DOI = doi.String
	p.Summary = summary.String
	p.Notes = notes.String
	p.Rating = int(rating.Int64)
	p.TimesRead = int(timesRead.Int64)
	p.Label = int(label.Int64)
	p.Version = version.String
	p.Number = number.String
	p.DocumentNumber = documentNumber.String
	p.StartPage = startPage.String
	p.EndPage = endPage.String
	p.Place = place.String
	p.Publisher = publisher.String
	p.Copyright = copyright.String
	p.Volume = volume.String
	p.Language = language.String
	p.Bundle = bundle.String
	p.BundleString = bundleString.String
	p.PublicationDate = publicationDate.String
	p.ImportedDate = importedDate.Int64

	return &p, nil
}

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
