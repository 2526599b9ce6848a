package core

import (
	"context"
)

// TextExtractor pulls plain text out of an uploaded document. The content
// type hint picks the parsing strategy.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
