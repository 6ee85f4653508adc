package parsing

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

type docxParser struct{}

func (docxParser) Parse(ctx context.Context, fileName string, data []byte) Result {
	if err := ctx.Err(); err != nil {
		return Result{Warnings: []string{err.Error()}}
	}

	reader := bytes.NewReader(data)
	doc, err := docx.ReadDocxFromMemory(reader, int64(len(data)))
	if err != nil {
		return Result{Warnings: []string{fmt.Sprintf("open docx %s: %v", fileName, err)}}
	}
	defer doc.Close()

	text := strings.TrimSpace(doc.Editable().GetContent())
	if text == "" {
		return Result{Warnings: []string{"no text extracted from docx: " + fileName}}
	}
	return Result{Content: text}
}
