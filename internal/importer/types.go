package importer

import (
	"fmt"

	"github.com/matsen/papers2zotero/internal/papers"
)

// itemTypes maps Papers2 publication types to Zotero item types.
var itemTypes = map[papers.PubType]string{
	papers.Book:              "book",
	papers.BookSection:       "bookSection",
	papers.Thesis:            "thesis",
	papers.EBook:             "book",
	papers.Pamphlet:          "document",
	papers.Website:           "webpage",
	papers.Poster:            "presentation",
	papers.Presentation:      "presentation",
	papers.Abstract:          "presentation",
	papers.Lecture:           "presentation",
	papers.Photo:             "artwork",
	papers.Software:          "computerProgram",
	papers.DataFile:          "dataset",
	papers.JournalArticle:    "journalArticle",
	papers.MagazineArticle:   "magazineArticle",
	papers.NewspaperArticle:  "newspaperArticle",
	papers.WebsiteArticle:    "webpage",
	papers.Manuscript:        "manuscript",
	papers.Preprint:          "preprint",
	papers.ConferencePaper:   "conferencePaper",
	papers.Patent:            "patent",
	papers.Report:            "report",
	papers.TechReport:        "report",
	papers.ScientificReport:  "report",
	papers.Grant:             "report",
	papers.Assignment:        "report",
	papers.ReferenceMaterial: "report",
	papers.Protocol:          "report",
}

// folderNames maps publication types to the top-level folder used in the
// Zotero linked-attachment layout (the "%T" convention used by ZotFile).
var folderNames = map[papers.PubType]string{
	papers.Book:              "Book",
	papers.BookSection:       "Book Section",
	papers.Thesis:            "Thesis",
	papers.EBook:             "Book",
	papers.Pamphlet:          "Document",
	papers.Website:           "Web Page",
	papers.Poster:            "Presentation",
	papers.Presentation:      "Presentation",
	papers.Abstract:          "Presentation",
	papers.Lecture:           "Presentation",
	papers.Photo:             "Artwork",
	papers.Software:          "Software",
	papers.DataFile:          "Dataset",
	papers.JournalArticle:    "Journal Article",
	papers.MagazineArticle:   "Magazine Article",
	papers.NewspaperArticle:  "Newspaper Article",
	papers.WebsiteArticle:    "Web Page",
	papers.Manuscript:        "Journal Article",
	papers.Preprint:          "Preprint",
	papers.ConferencePaper:   "Conference Paper",
	papers.Patent:            "Patent",
	papers.Report:            "Report",
	papers.TechReport:        "Report",
	papers.ScientificReport:  "Report",
	papers.Grant:             "Report",
	papers.Assignment:        "Report",
	papers.ReferenceMaterial: "Report",
	papers.Protocol:          "Report",
}

// itemTypeFor resolves the Zotero item type for a publication type.
// Unknown types indicate a table out of sync with the papers package.
func itemTypeFor(pt papers.PubType) (string, error) {
	it, ok := itemTypes[pt]
	if !ok {
		return "", fmt.Errorf("no zotero item type for publication type %s", pt)
	}
	return it, nil
}

// folderFor resolves the linked-attachment folder for a publication type.
func folderFor(pt papers.PubType) (string, error) {
	f, ok := folderNames[pt]
	if !ok {
		return "", fmt.Errorf("no attachment folder for publication type %s", pt)
	}
	return f, nil
}
