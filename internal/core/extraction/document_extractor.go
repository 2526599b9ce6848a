package extraction

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"

	"github.com/markdave123-py/lawgpt/internal/core"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
	mimeTXT  = "text/plain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// Extractable reports whether text can be pulled out of the content type.
func Extractable(contentType string) bool {
	switch baseType(contentType) {
	case mimePDF, mimeDOCX, mimeDOC, mimeTXT:
		return true
	}
	return false
}

// ExtractText returns the trimmed text body of a PDF, Word or plain-text
// document. Anything else, or an empty result, is core.ErrNoText.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	switch ct := baseType(contentType); ct {
	case mimeTXT:
		text = decodeText(data)
	case mimePDF, mimeDOCX, mimeDOC:
		res, err := docconv.Convert(bytes.NewReader(data), ct, e.useReadability)
		if err != nil {
			log.Warn().Err(err).Str("content_type", ct).Msg("docconv extraction failed")
			return "", errors.Wrapf(core.ErrNoText, "%s: %v", ct, err)
		}
		text = res.Body
	default:
		return "", errors.Wrapf(core.ErrNoText, "unsupported content type %q", contentType)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.ErrNoText
	}
	return text, nil
}

// decodeText reads UTF-8 and falls back to Windows-1252, then ISO-8859-1.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	if s, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(s, utf8.RuneError) {
		return string(s)
	}
	s, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(s)
}

func baseType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)
