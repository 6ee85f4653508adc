package parsing

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type excelParser struct{}

// Parse renders a spreadsheet as a "markdownified" text document: each sheet
// becomes a "Sheet: <name>" block and each data row becomes a "Row N:
// Header | Value, ..." line keyed against the first row's headers.
func (excelParser) Parse(ctx context.Context, fileName string, data []byte) Result {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Result{Warnings: []string{fmt.Sprintf("open excel file %s: %v", fileName, err)}}
	}
	defer f.Close()

	var warnings []string
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Result{Warnings: []string{"no sheets found in excel file: " + fileName}}
	}

	var out strings.Builder
	for sheetIdx, name := range sheets {
		if err := ctx.Err(); err != nil {
			warnings = append(warnings, err.Error())
			break
		}
		if sheetIdx > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(fmt.Sprintf("Sheet: %s\n", name))

		rows, err := f.GetRows(name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read sheet %s: %v", name, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		headers := rows[0]
		if len(headers) == 0 {
			continue
		}

		for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
			row := rows[rowIdx]
			var parts []string
			for colIdx, header := range headers {
				if colIdx >= len(row) || row[colIdx] == "" {
					continue
				}
				value := strings.TrimSpace(row[colIdx])
				if value == "" {
					continue
				}
				headerName := strings.TrimSpace(header)
				if headerName == "" {
					headerName = fmt.Sprintf("Column %d", colIdx+1)
				}
				parts = append(parts, fmt.Sprintf("%s | %s", headerName, value))
			}
			if len(parts) > 0 {
				out.WriteString(fmt.Sprintf("Row %d: %s\n", rowIdx+1, strings.Join(parts, ", ")))
			}
		}
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		warnings = append(warnings, "no content extracted from excel file: "+fileName)
	}
	return Result{
		Content:  result,
		Metadata: map[string]string{"sheetCount": fmt.Sprintf("%d", len(sheets))},
		Warnings: warnings,
	}
}
