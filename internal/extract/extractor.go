// Package extract turns document files into numbered pages of text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Page is the text of one page, sheet, or slide. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Extractor extracts page text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

var supported = map[string]bool{
	".pdf": true, ".docx": true, ".xlsx": true, ".pptx": true,
	".odp": true, ".ods": true, ".txt": true, ".md": true, ".rst": true,
}

// Supported reports whether ext (with leading dot, any case) has a dedicated extractor.
func Supported(ext string) bool {
	return supported[strings.ToLower(ext)]
}

// ExtractPages reads the file at path and returns its pages.
func (e *Extractor) ExtractPages(path string) ([]Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractPagesBytes(content, filepath.Ext(path))
}

// ExtractPagesBytes extracts pages from content based on ext (e.g. ".pdf").
// PDFs yield one page per PDF page, spreadsheets one per sheet, presentations one per
// slide. Word documents and plain text are a single page. Unknown extensions are
// read as plain text. Pages with no text are kept so numbering matches the source.
func (e *Extractor) ExtractPagesBytes(content []byte, ext string) ([]Page, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return singlePage(text), nil
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	default:
		return singlePage(extractPlain(content)), nil
	}
}

// JoinPages concatenates page texts separated by blank lines.
func JoinPages(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func singlePage(text string) []Page {
	return []Page{{Number: 1, Text: text}}
}
