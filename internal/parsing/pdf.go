package parsing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

type pdfParser struct{}

// Parse puts a "--- Page N ---" marker before each page's text.
func (pdfParser) Parse(ctx context.Context, fileName string, data []byte) Result {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return Result{Warnings: []string{fmt.Sprintf("open pdf %s: %v", fileName, err)}}
	}
	defer doc.Close()

	var warnings []string
	var out strings.Builder
	numPages := doc.NumPage()
	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			warnings = append(warnings, err.Error())
			break
		}
		pageText, err := doc.Text(i)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		if i > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(fmt.Sprintf("--- Page %d ---\n", i+1))
		out.WriteString(pageText)
	}

	extracted := strings.TrimSpace(out.String())
	if extracted == "" {
		warnings = append(warnings, "no text extracted from pdf: "+fileName)
	}
	return Result{
		Content:  extracted,
		Metadata: map[string]string{"pageCount": fmt.Sprintf("%d", numPages)},
		Warnings: warnings,
	}
}
