package importer

import (
	"github.com/matsen/papers2zotero/internal/papers"
	"github.com/matsen/papers2zotero/internal/zotero"
)

// entry is one buffered publication awaiting submission. The source id
// travels with the item, so a per-position failure in the write response
// maps back to its publication without any parallel-list bookkeeping.
type entry struct {
	ID          int64
	Item        zotero.Item
	Notes       []string
	Attachments []papers.Attachment
}

// batch is a bounded, ordered buffer of entries. It is in-memory only and
// cleared unconditionally after every submission attempt.
type batch struct {
	entries []entry
	maxSize int
}

func newBatch(maxSize int) *batch {
	return &batch{maxSize: maxSize}
}

func (b *batch) add(e entry) {
	b.entries = append(b.entries, e)
}

func (b *batch) size() int {
	return len(b.entries)
}

func (b *batch) full() bool {
	return len(b.entries) >= b.maxSize
}

func (b *batch) empty() bool {
	return len(b.entries) == 0
}

func (b *batch) clear() {
	b.entries = nil
}

// items returns the buffered Zotero items in submission order.
func (b *batch) items() []zotero.Item {
	items := make([]zotero.Item, len(b.entries))
	for i, e := range b.entries {
		items[i] = e.Item
	}
	return items
}
