package validation

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/markdave123-py/lawgpt/internal/models"
)

const (
	MiB = 1 << 20

	// MaxFileSize caps every upload regardless of type.
	MaxFileSize = 10 * MiB

	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeTXT  = "text/plain"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
	MimeWEBP = "image/webp"

	mimeOctetStream = "application/octet-stream"
)

// FileType is one entry of the upload allow-list.
type FileType struct {
	MimeType    string   `json:"mimetype"`
	Extensions  []string `json:"extensions"`
	MaxSize     int64    `json:"maxSize"`
	Description string   `json:"description"`
	// Kind is the short name stored in message file metadata.
	Kind string `json:"kind"`
}

var allowedTypes = []FileType{
	{MimeType: MimePDF, Extensions: []string{".pdf"}, MaxSize: 10 * MiB, Description: "PDF Document", Kind: "pdf"},
	{MimeType: MimeDOCX, Extensions: []string{".docx"}, MaxSize: 5 * MiB, Description: "Word Document (DOCX)", Kind: "docx"},
	{MimeType: MimeDOC, Extensions: []string{".doc"}, MaxSize: 5 * MiB, Description: "Word Document (DOC)", Kind: "doc"},
	{MimeType: MimeTXT, Extensions: []string{".txt"}, MaxSize: 1 * MiB, Description: "Plain Text", Kind: "txt"},
	{MimeType: MimeJPEG, Extensions: []string{".jpg", ".jpeg"}, MaxSize: 5 * MiB, Description: "JPEG Image", Kind: "image"},
	{MimeType: MimePNG, Extensions: []string{".png"}, MaxSize: 5 * MiB, Description: "PNG Image", Kind: "image"},
	{MimeType: MimeGIF, Extensions: []string{".gif"}, MaxSize: 5 * MiB, Description: "GIF Image", Kind: "image"},
	{MimeType: MimeWEBP, Extensions: []string{".webp"}, MaxSize: 5 * MiB, Description: "WebP Image", Kind: "image"},
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)onload=`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)document\.cookie`),
	regexp.MustCompile(`(?i)window\.location`),
}

var (
	specialChars = regexp.MustCompile(`[<>"'|?*]`)
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

	pdfHeader = []byte("%PDF-")
	pdfEOF    = []byte("%%EOF")

	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gifMagic  = []byte{0x47, 0x49, 0x46}
)

// Result is the verdict for one file.
type Result struct {
	FileName string   `json:"filename"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	FileType string   `json:"fileType"`

	// MimeType is the declared type, or the one inferred from the extension.
	MimeType string `json:"mimetype"`
	Kind     string `json:"-"`
	TooLarge bool   `json:"-"`
}

type Summary struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Warnings int `json:"warnings"`
}

type BatchResult struct {
	Valid   bool     `json:"valid"`
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Lookup returns the allow-list entry for a MIME type.
func Lookup(mimeType string) (FileType, bool) {
	mimeType = baseType(mimeType)
	for _, t := range allowedTypes {
		if t.MimeType == mimeType {
			return t, true
		}
	}
	return FileType{}, false
}

// SupportedTypes lists the allow-list.
func SupportedTypes() []FileType {
	out := make([]FileType, len(allowedTypes))
	for i, t := range allowedTypes {
		t.Extensions = slices.Clone(t.Extensions)
		out[i] = t
	}
	return out
}

// ResolveMimeType infers the type from the extension when the client sent
// none or a generic octet-stream.
func ResolveMimeType(fileName, declared string) string {
	declared = baseType(declared)
	if declared != "" && declared != mimeOctetStream {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, t := range allowedTypes {
		if slices.Contains(t.Extensions, ext) {
			return t.MimeType
		}
	}
	if declared == "" {
		return mimeOctetStream
	}
	return declared
}

// Validate runs the size, type, name, signature and content checks.
func Validate(up models.Upload) Result {
	res := Result{FileName: up.FileName, FileType: "Unknown"}
	res.MimeType = ResolveMimeType(up.FileName, up.MimeType)
	size := up.Size()

	if size == 0 {
		res.Errors = append(res.Errors, "File is empty")
		return res.finish()
	}
	if size > MaxFileSize {
		res.TooLarge = true
		res.Errors = append(res.Errors, fmt.Sprintf("File too large: %s. Maximum size: %s", megabytes(size), megabytes(MaxFileSize)))
	}

	ft, known := Lookup(res.MimeType)
	if !known {
		res.Errors = append(res.Errors, fmt.Sprintf("Invalid file type: %s. Allowed types: %s", res.MimeType, descriptions()))
	} else {
		res.FileType = ft.Description
		res.Kind = ft.Kind
		if size > ft.MaxSize {
			res.TooLarge = true
			res.Errors = append(res.Errors, fmt.Sprintf("File too large for type %s: %s. Maximum: %s", ft.Description, megabytes(size), megabytes(ft.MaxSize)))
		}
	}

	if strings.TrimSpace(up.FileName) == "" {
		res.Errors = append(res.Errors, "Invalid filename")
	} else {
		if specialChars.MatchString(up.FileName) {
			res.Warnings = append(res.Warnings, "Filename contains special characters that may cause issues")
		}
		ext := strings.ToLower(filepath.Ext(up.FileName))
		if known && !slices.Contains(ft.Extensions, ext) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("File extension %s doesn't match MIME type %s", ext, res.MimeType))
		}
	}

	if known {
		if reason := checkSignature(ft.MimeType, up.Data); reason != "" {
			res.Errors = append(res.Errors, reason)
		}
	}

	if textBearing(res.MimeType) {
		if pattern := suspiciousPattern(up.Data); pattern != "" {
			res.Errors = append(res.Errors, "File contains potentially malicious content: Suspicious pattern detected: "+pattern)
		}
	}

	return res.finish()
}

// ValidateMany validates every upload and summarises the batch.
func ValidateMany(uploads []models.Upload) BatchResult {
	out := BatchResult{Results: make([]Result, 0, len(uploads))}
	for _, up := range uploads {
		r := Validate(up)
		out.Results = append(out.Results, r)
		if r.Valid {
			out.Summary.Valid++
		} else {
			out.Summary.Invalid++
		}
		if len(r.Warnings) > 0 {
			out.Summary.Warnings++
		}
	}
	out.Summary.Total = len(uploads)
	out.Valid = out.Summary.Invalid == 0
	return out
}

// SanitizeFileName keeps the base name and replaces characters that are
// unsafe in storage keys and headers.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "file"
	}
	return name
}

func (r Result) finish() Result {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	r.Valid = len(r.Errors) == 0
	return r
}

func checkSignature(mimeType string, data []byte) string {
	switch mimeType {
	case MimePDF:
		if !bytes.HasPrefix(data, pdfHeader) {
			return "Invalid PDF header"
		}
		tail := data[max(0, len(data)-1024):]
		if !bytes.Contains(tail, pdfEOF) {
			return "PDF file appears to be corrupted (no EOF marker)"
		}
		if len(data) < 100 {
			return "PDF file too small to be valid"
		}
	case MimeJPEG, MimePNG, MimeGIF, MimeWEBP:
		if !isImage(data) {
			return "Invalid image file format"
		}
	}
	return ""
}

func isImage(data []byte) bool {
	switch {
	case bytes.HasPrefix(data, jpegMagic), bytes.HasPrefix(data, pngMagic), bytes.HasPrefix(data, gifMagic):
		return true
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return true
	}
	return false
}

func textBearing(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || strings.Contains(mimeType, "document")
}

func suspiciousPattern(data []byte) string {
	for _, p := range suspiciousPatterns {
		if p.Match(data) {
			return strings.TrimPrefix(p.String(), "(?i)")
		}
	}
	return ""
}

func descriptions() string {
	names := make([]string, len(allowedTypes))
	for i, t := range allowedTypes {
		names[i] = t.Description
	}
	return strings.Join(names, ", ")
}

func megabytes(n int64) string {
	if n%MiB == 0 {
		return fmt.Sprintf("%dMB", n/MiB)
	}
	return fmt.Sprintf("%.2fMB", float64(n)/MiB)
}

func baseType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
