package parsing

import "context"

type textParser struct{}

func (textParser) Parse(ctx context.Context, fileName string, data []byte) Result {
	text := string(data)
	if text == "" {
		return Result{Warnings: []string{"no content in text file: " + fileName}}
	}
	return Result{Content: text}
}
