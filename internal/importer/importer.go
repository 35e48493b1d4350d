// Package importer drives the migration of Papers2 publications into a
// Zotero library: it converts each publication to a Zotero item, buffers
// items into bounded batches, submits them with partial-failure isolation,
// and records progress in a durable checkpoint.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/matsen/papers2zotero/internal/checkpoint"
	"github.com/matsen/papers2zotero/internal/extract"
	"github.com/matsen/papers2zotero/internal/papers"
	"github.com/matsen/papers2zotero/internal/relocate"
	"github.com/matsen/papers2zotero/internal/zotero"
)

// AttachmentMode selects which attachments are carried over.
type AttachmentMode string

const (
	// AttachAll carries every attachment.
	AttachAll AttachmentMode = "all"
	// AttachUnread carries attachments only for unread publications.
	AttachUnread AttachmentMode = "unread"
	// AttachNone skips attachments entirely.
	AttachNone AttachmentMode = "none"
)

// ParseAttachmentMode validates a mode string.
func ParseAttachmentMode(s string) (AttachmentMode, error) {
	switch AttachmentMode(s) {
	case AttachAll, AttachUnread, AttachNone:
		return AttachmentMode(s), nil
	}
	return "", fmt.Errorf("invalid attachment mode %q (want all, unread or none)", s)
}

// API is the slice of the Zotero client the importer depends on.
type API interface {
	ItemTemplate(ctx context.Context, itemType, linkMode string) (zotero.Item, error)
	CreateItems(ctx context.Context, items []zotero.Item, parentKey string) (*zotero.WriteResult, error)
	Collections(ctx context.Context) ([]zotero.Collection, error)
	CreateCollections(ctx context.Context, names []string) error
	UploadAttachments(ctx context.Context, paths []string, parentKey string) error
}

// Library is the slice of the Papers2 reader the importer depends on.
type Library interface {
	extract.Source
	AllCollections() ([]papers.Collection, error)
	Reviews(pub *papers.Publication, mineOnly bool) ([]papers.Review, error)
	Attachments(pub *papers.Publication) ([]papers.Attachment, error)
	Folder() string
}

// Default drive-relative bases for the linked-attachment layouts.
const (
	DefaultSourceBase = "/Papers2"
	DefaultDestBase   = "/Zotero"
)

// Config assembles an Importer.
type Config struct {
	Client  API
	Library Library

	// Mover, together with LinkBase, switches attachment handling from
	// upload to linked-file relocation.
	Mover    relocate.Mover
	LinkBase string

	// SourceBase and DestBase are the backend-relative roots the mover
	// moves between. They default to DefaultSourceBase and DefaultDestBase.
	SourceBase string
	DestBase   string

	Keywords extract.KeywordFilter
	LabelMap map[string]string

	// Collections selects the source collections to mirror; AllCollections
	// overrides it with every collection in the library. With neither set,
	// no collections are mirrored.
	Collections    []string
	AllCollections bool

	Attachments AttachmentMode
	BatchSize   int

	// Checkpoint may be nil (dry runs); progress is then not recorded.
	Checkpoint  *checkpoint.Checkpoint
	DryRun      *DryRun
	RetryFailed bool

	// AllReviews includes reviews written by others, not just the
	// library owner's.
	AllReviews bool

	Log *slog.Logger
}

// Importer converts and submits publications. Single-threaded by design:
// checkpoint staging order and batch order must match, and neither
// structure is locked.
type Importer struct {
	cfg   Config
	ectx  extract.Context
	batch *batch
	log   *slog.Logger
}

// New builds an Importer and resolves the collection name-to-key mapping,
// creating missing Zotero collections up front.
func New(ctx context.Context, cfg Config) (*Importer, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Attachments == "" {
		cfg.Attachments = AttachAll
	}
	if cfg.SourceBase == "" {
		cfg.SourceBase = DefaultSourceBase
	}
	if cfg.DestBase == "" {
		cfg.DestBase = DefaultDestBase
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	imp := &Importer{
		cfg:   cfg,
		batch: newBatch(cfg.BatchSize),
		log:   cfg.Log,
	}

	collections, err := imp.loadCollections(ctx)
	if err != nil {
		return nil, err
	}

	imp.ectx = extract.Context{
		Source:      cfg.Library,
		Collections: collections,
		Keywords:    cfg.Keywords,
		LabelMap:    cfg.LabelMap,
	}
	return imp, nil
}

// loadCollections builds the source-name to Zotero-key mapping for the
// collections selected for this run, creating any that do not exist yet.
// Dry runs get placeholder keys so output stays readable.
func (i *Importer) loadCollections(ctx context.Context) (map[string]string, error) {
	names := i.cfg.Collections
	if i.cfg.AllCollections {
		cols, err := i.cfg.Library.AllCollections()
		if err != nil {
			return nil, fmt.Errorf("listing source collections: %w", err)
		}
		names = nil
		for _, c := range cols {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	mapping := make(map[string]string, len(names))

	if i.cfg.DryRun != nil {
		for _, name := range names {
			mapping[name] = "<" + name + ">"
		}
		return mapping, nil
	}

	existing, err := i.cfg.Client.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing zotero collections: %w", err)
	}
	have := make(map[string]string, len(existing))
	for _, c := range existing {
		have[c.Name] = c.Key
	}

	var missing []string
	for _, name := range names {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		if err := i.cfg.Client.CreateCollections(ctx, missing); err != nil {
			return nil, fmt.Errorf("creating zotero collections: %w", err)
		}
		// Re-fetch to learn the new keys.
		existing, err = i.cfg.Client.Collections(ctx)
		if err != nil {
			return nil, fmt.Errorf("re-listing zotero collections: %w", err)
		}
		for _, c := range existing {
			have[c.Name] = c.Key
		}
	}

	for _, name := range names {
		key, ok := have[name]
		if !ok {
			return nil, fmt.Errorf("zotero collection %q missing after creation", name)
		}
		mapping[name] = key
	}
	return mapping, nil
}

// AddPub converts one publication and enqueues it for submission, flushing
// the batch when it fills. Returns true iff the publication was enqueued
// rather than skipped. Conversion errors (unknown type code, unsupported
// author role) fail only this record; submission errors from an auto-flush
// propagate after the checkpoint has been rolled back.
func (i *Importer) AddPub(ctx context.Context, pub *papers.Publication) (bool, error) {
	if cp := i.cfg.Checkpoint; cp != nil {
		if cp.Contains(pub.ID) {
			i.log.Info("skipping already imported publication", "id", pub.ID, "title", pub.Title)
			return false, nil
		}
		if cp.ContainsFailed(pub.ID) {
			if !i.cfg.RetryFailed {
				i.log.Info("skipping previously failed publication", "id", pub.ID, "title", pub.Title)
				return false, nil
			}
			i.log.Warn("retrying previously failed publication", "id", pub.ID, "title", pub.Title)
		}
	}

	item, err := i.buildItem(ctx, pub)
	if err != nil {
		return false, err
	}

	notes, err := i.gatherNotes(pub)
	if err != nil {
		return false, err
	}

	attachments, err := i.gatherAttachments(pub)
	if err != nil {
		return false, err
	}

	i.batch.add(entry{ID: pub.ID, Item: item, Notes: notes, Attachments: attachments})
	if cp := i.cfg.Checkpoint; cp != nil {
		cp.Add(pub.ID)
	}

	if i.batch.full() {
		if err := i.commitBatch(ctx, false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// buildItem fetches the template for the publication's item type and fills
// it from the extraction table, then appends the derived tags.
func (i *Importer) buildItem(ctx context.Context, pub *papers.Publication) (zotero.Item, error) {
	ptype, err := pub.Type()
	if err != nil {
		return nil, err
	}
	itemType, err := itemTypeFor(ptype)
	if err != nil {
		return nil, err
	}

	item, err := i.cfg.Client.ItemTemplate(ctx, itemType, "")
	if err != nil {
		return nil, fmt.Errorf("fetching %s template: %w", itemType, err)
	}

	// Only fields the template declares are filled; everything else keeps
	// the template default.
	for field := range item {
		rule, ok := extract.Rules[field]
		if !ok {
			continue
		}
		value, err := rule.Extract(pub, &i.ectx)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", field, err)
		}
		if value != nil {
			item[field] = value
		}
	}

	item["tags"] = i.augmentTags(item["tags"], pub)
	return item, nil
}

// augmentTags appends the membership, citation and rating tags to whatever
// the keyword extraction produced.
func (i *Importer) augmentTags(extracted any, pub *papers.Publication) []zotero.Tag {
	tags, _ := extracted.([]zotero.Tag)

	// One tag per collection membership, regardless of the collections
	// selected for the run, so membership survives even unmirrored.
	if cols, err := i.cfg.Library.Collections(pub); err == nil {
		for _, c := range cols {
			tags = append(tags, zotero.Tag{Tag: "C:" + c.Name})
		}
	} else {
		i.log.Warn("listing collection memberships", "id", pub.ID, "err", err)
	}

	if pub.Citekey != "" {
		tags = append(tags, zotero.Tag{Tag: "&cited"})
	}

	// The star symbol matters: tag plugins sort and display by it.
	if pub.Rating > 0 {
		tags = append(tags, zotero.Tag{Tag: strings.Repeat("⭐", pub.Rating)})
	}

	return tags
}

// gatherNotes collects the publication's own note plus one note per review.
func (i *Importer) gatherNotes(pub *papers.Publication) ([]string, error) {
	var notes []string
	if pub.Notes != "" {
		notes = append(notes, pub.Notes)
	}

	reviews, err := i.cfg.Library.Reviews(pub, !i.cfg.AllReviews)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	for _, r := range reviews {
		notes = append(notes, fmt.Sprintf("%s Rating: %d", r.Content, r.Rating))
	}
	return notes, nil
}

// gatherAttachments applies the run's attachment policy.
func (i *Importer) gatherAttachments(pub *papers.Publication) ([]papers.Attachment, error) {
	switch i.cfg.Attachments {
	case AttachNone:
		return nil, nil
	case AttachUnread:
		if pub.TimesRead != 0 {
			return nil, nil
		}
	}
	atts, err := i.cfg.Library.Attachments(pub)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	return atts, nil
}

// Flush force-submits any buffered remainder.
func (i *Importer) Flush(ctx context.Context) error {
	return i.commitBatch(ctx, true)
}

// Close flushes the remaining batch and closes the dry-run sink.
func (i *Importer) Close(ctx context.Context) error {
	err := i.commitBatch(ctx, true)
	if i.cfg.DryRun != nil {
		if cerr := i.cfg.DryRun.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// commitBatch submits the buffered items when the batch is full, or
// whenever it is non-empty if force is set. The buffer is cleared no
// matter what happens, so a poisoned batch can never be resubmitted.
func (i *Importer) commitBatch(ctx context.Context, force bool) error {
	if !i.batch.full() && !(force && !i.batch.empty()) {
		return nil
	}
	defer i.batch.clear()

	if i.cfg.DryRun != nil {
		for _, e := range i.batch.entries {
			paths := attachmentPaths(e.Attachments)
			if err := i.cfg.DryRun.Write(e.Item, e.Notes, paths); err != nil {
				return err
			}
		}
		return nil
	}

	status, err := i.cfg.Client.CreateItems(ctx, i.batch.items(), "")
	if err != nil {
		// The submission itself failed; nothing below reflects remote
		// reality, so discard the staged ids and let the caller decide.
		if cp := i.cfg.Checkpoint; cp != nil {
			cp.Rollback()
		}
		return fmt.Errorf("submitting batch of %d: %w", i.batch.size(), err)
	}

	succeeded := make(map[int]string, len(status.Success)+len(status.Unchanged))
	mergePositions(succeeded, status.Success)
	mergePositions(succeeded, status.Unchanged)

	for pos, werr := range status.Failed {
		idx, err := strconv.Atoi(pos)
		if err != nil || idx < 0 || idx >= i.batch.size() {
			i.log.Error("unintelligible failure position in write response", "position", pos)
			continue
		}
		e := i.batch.entries[idx]
		i.markFailed(e.ID)
		i.log.Error("item creation failed",
			"id", e.ID, "title", e.Item["title"],
			"code", werr.Code, "message", werr.Message)
	}

	// Dependent steps run per succeeded item, in submission order. A
	// failure here downgrades that item to a checkpoint failure but never
	// blocks its siblings.
	for idx, e := range i.batch.entries {
		key, ok := succeeded[idx]
		if !ok {
			continue
		}
		i.createNotes(ctx, e, key)
		i.handleAttachments(ctx, e, key)
	}

	if cp := i.cfg.Checkpoint; cp != nil {
		if err := cp.Commit(); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}
		i.log.Info("batch committed",
			"created", len(status.Success),
			"unchanged", len(status.Unchanged),
			"failed", len(status.Failed),
			"attempted", i.batch.size(),
			"total_imported", cp.CountSucceeded())
	}
	return nil
}

func mergePositions(dst map[int]string, src map[string]string) {
	for pos, key := range src {
		if idx, err := strconv.Atoi(pos); err == nil {
			dst[idx] = key
		}
	}
}

func (i *Importer) markFailed(id int64) {
	if cp := i.cfg.Checkpoint; cp != nil {
		cp.AddFailed(id)
	}
}

// createNotes creates the entry's notes as children of the created item.
// Failures degrade to a warning plus a checkpoint failure mark.
func (i *Importer) createNotes(ctx context.Context, e entry, parentKey string) {
	if len(e.Notes) == 0 {
		return
	}

	tpl, err := i.cfg.Client.ItemTemplate(ctx, "note", "")
	if err != nil {
		i.log.Error("fetching note template", "id", e.ID, "err", err)
		i.markFailed(e.ID)
		return
	}

	noteBatch := make([]zotero.Item, len(e.Notes))
	for n, text := range e.Notes {
		note := tpl.Clone()
		note["note"] = text
		noteBatch[n] = note
	}

	status, err := i.cfg.Client.CreateItems(ctx, noteBatch, parentKey)
	if err != nil {
		i.log.Error("creating notes", "id", e.ID, "err", err)
		i.markFailed(e.ID)
		return
	}
	for pos, werr := range status.Failed {
		i.log.Error("note creation failed",
			"id", e.ID, "position", pos, "code", werr.Code, "message", werr.Message)
		i.markFailed(e.ID)
	}
}

// handleAttachments either uploads the entry's files or, when a linked
// attachment base and a mover are configured, creates linked-file records
// and relocates the physical files. Each attachment fails independently.
func (i *Importer) handleAttachments(ctx context.Context, e entry, parentKey string) {
	if i.cfg.Attachments == AttachNone || len(e.Attachments) == 0 {
		return
	}

	if i.cfg.LinkBase == "" || i.cfg.Mover == nil {
		if err := i.cfg.Client.UploadAttachments(ctx, attachmentPaths(e.Attachments), parentKey); err != nil {
			i.log.Error("uploading attachments", "id", e.ID, "err", err)
			i.markFailed(e.ID)
		}
		return
	}

	tpl, err := i.cfg.Client.ItemTemplate(ctx, "attachment", "linked_file")
	if err != nil {
		i.log.Error("fetching linked attachment template", "id", e.ID, "err", err)
		i.markFailed(e.ID)
		return
	}

	for _, att := range e.Attachments {
		i.linkAndRelocate(ctx, e.ID, att, tpl, parentKey)
	}
}

// linkAndRelocate creates one linked-file attachment record and, only once
// that record exists, moves the physical file into the Zotero layout.
func (i *Importer) linkAndRelocate(ctx context.Context, id int64, att papers.Attachment, tpl zotero.Item, parentKey string) {
	loc, err := i.planRelocation(att)
	if err != nil {
		i.log.Error("planning attachment relocation", "id", id, "path", att.Path, "err", err)
		i.markFailed(id)
		return
	}

	item := tpl.Clone()
	// The "attachments:" prefix marks the path as relative to the linked
	// attachment base directory.
	item["path"] = "attachments:" + loc.relPath
	item["contentType"] = att.MIMEType
	item["title"] = loc.filename
	if loc.supplement {
		item["tags"] = []zotero.Tag{{Tag: "&SUPP"}}
	} else {
		item["tags"] = []zotero.Tag{}
	}
	item["accessDate"] = ""
	if info, err := os.Stat(att.Path); err == nil {
		item["accessDate"] = extract.FormatTimestamp(info.ModTime().Unix())
	}

	status, err := i.cfg.Client.CreateItems(ctx, []zotero.Item{item}, parentKey)
	if err != nil {
		i.log.Error("creating linked attachment", "id", id, "path", loc.relPath, "err", err)
		i.markFailed(id)
		return
	}
	if len(status.Success) != 1 {
		i.log.Error("linked attachment not created", "id", id, "path", loc.relPath)
		i.markFailed(id)
		return
	}

	if _, err := os.Stat(att.Path); err != nil {
		i.log.Error("source attachment missing, not moved", "id", id, "path", att.Path)
		i.markFailed(id)
		return
	}
	if !i.cfg.Mover.Move(ctx, loc.fromPath, loc.toPath) {
		i.log.Error("attachment move failed", "id", id, "from", loc.fromPath, "to", loc.toPath)
		i.markFailed(id)
		return
	}
	i.log.Info("attachment relocated", "id", id, "file", loc.filename)
}

// relocation describes where one attachment goes in the Zotero layout.
type relocation struct {
	relPath    string // destination path relative to the linked attachment base
	fromPath   string // backend path of the source file
	toPath     string // backend path of the destination file
	filename   string
	supplement bool
}

// planRelocation reshapes a Papers2 attachment path for the Zotero layout:
// the top-level folder becomes the item-type folder, the author-initial
// folder collapses to a single character, and a "Supplemental" segment is
// dropped in favor of a "Supplement-" filename prefix.
func (i *Importer) planRelocation(att papers.Attachment) (relocation, error) {
	rel, err := filepath.Rel(i.cfg.Library.Folder(), att.Path)
	if err != nil {
		return relocation{}, fmt.Errorf("attachment outside library folder: %w", err)
	}
	rel = filepath.ToSlash(rel)

	segs := strings.Split(rel, "/")
	if len(segs) < 2 {
		return relocation{}, fmt.Errorf("unexpected attachment layout: %s", rel)
	}
	segs = slices.Clone(segs)

	// Collapse the author-initial folder ("Ab" -> "A").
	if len(segs) >= 3 {
		segs[1] = segs[1][:1]
	}

	supplement := len(segs) == 5 && segs[3] == "Supplemental"
	if supplement {
		segs = append(segs[:3], segs[4:]...)
		segs[len(segs)-1] = "Supplement-" + segs[len(segs)-1]
	}

	folder, err := folderFor(att.Type)
	if err != nil {
		return relocation{}, err
	}

	zrel := path.Join(append([]string{folder}, segs[1:]...)...)
	return relocation{
		relPath:    zrel,
		fromPath:   path.Join(i.cfg.SourceBase, rel),
		toPath:     path.Join(i.cfg.DestBase, zrel),
		filename:   segs[len(segs)-1],
		supplement: supplement,
	}, nil
}

func attachmentPaths(atts []papers.Attachment) []string {
	paths := make([]string, len(atts))
	for n, a := range atts {
		paths[n] = a.Path
	}
	return paths
}
