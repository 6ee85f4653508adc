// Package parsing extracts plain text from the raw bytes of an uploaded
// file, the first stage of the ingestion pipeline. Parsers never throw for
// unparseable content: a failure degrades to empty content plus a warning,
// never a panic or error return. The registry dispatches by file
// extension to a per-format parser.
package parsing

import (
	"context"
	"path/filepath"
	"strings"
)

// Result is the outcome of parsing one file: its extracted text, any
// structural metadata the parser chose to record, and any warnings
// encountered along the way.
type Result struct {
	Content  string
	Metadata map[string]string
	Warnings []string
}

// Parser extracts text content from a file's raw bytes. Implementations
// must never panic or return an error: an unparseable file degrades to an
// empty Result plus a warning.
type Parser interface {
	Parse(ctx context.Context, fileName string, data []byte) Result
}

// Registry dispatches to a Parser by lowercase file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds the default registry: plain text, PDF, DOCX, and XLSX.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(".txt", textParser{})
	r.Register(".md", textParser{})
	r.Register(".markdown", textParser{})
	r.Register(".pdf", pdfParser{})
	r.Register(".docx", docxParser{})
	r.Register(".xlsx", excelParser{})
	r.Register(".xls", excelParser{})
	return r
}

// Register adds or overrides the parser for an extension (including the
// leading dot, e.g. ".pdf").
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// Supports reports whether the registry has a parser for a file's extension.
func (r *Registry) Supports(fileName string) bool {
	_, ok := r.parsers[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

// Parse routes a file to its registered parser by extension. An unknown
// extension never fails the caller: it returns an empty Result carrying
// an "unsupported file type" warning, leaving the ingestion pipeline to
// fail the document with "No extractable content".
func (r *Registry) Parse(ctx context.Context, fileName string, data []byte) Result {
	ext := strings.ToLower(filepath.Ext(fileName))
	p, ok := r.parsers[ext]
	if !ok {
		return Result{Warnings: []string{"unsupported file type: " + ext}}
	}
	return p.Parse(ctx, fileName, data)
}
