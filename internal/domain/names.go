// Package domain names.go maps declared upload metadata onto storage names
// and download filenames.
package domain

import (
	"mime"
	"path"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used when the declared content type is absent or unknown.
const DefaultExtension = ".bin"

// DefaultContentType is recorded when the client declares none.
const DefaultContentType = "application/octet-stream"

const maxExtLen = 10

// inlineTypes are the content types the inline viewer may embed.
var inlineTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// NormalizeContentType lowercases the media type and strips parameters.
// Unparseable or empty input yields DefaultContentType.
func NormalizeContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(ct))
	if err != nil || mt == "" {
		return DefaultContentType
	}
	return strings.ToLower(mt)
}

// ExtensionFor returns the storage file extension (with leading dot) for a
// declared content type.
func ExtensionFor(ct string) string {
	m := mimetype.Lookup(NormalizeContentType(ct))
	if m == nil {
		return DefaultExtension
	}
	ext := m.Extension()
	if !validExtension(ext) {
		return DefaultExtension
	}
	return ext
}

// InlineViewable reports whether content of this type may be embedded by the
// inline viewer.
func InlineViewable(ct string) bool {
	_, ok := inlineTypes[NormalizeContentType(ct)]
	return ok
}

// StorageName joins a token and extension into a BlobStore name.
func StorageName(t Token, ext string) string { return t.String() + ext }

// ParseStorageName validates a BlobStore name: a Token followed by an
// optional lowercase alphanumeric extension. This rules out separators and
// traversal sequences.
func ParseStorageName(name string) (Token, string, error) {
	if len(name) < TokenLen {
		return "", "", ErrInvalidArgument
	}
	tok, err := ParseToken(name[:TokenLen])
	if err != nil {
		return "", "", err
	}
	ext := name[TokenLen:]
	if ext != "" && !validExtension(ext) {
		return "", "", ErrInvalidArgument
	}
	return tok, ext, nil
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLen || ext[0] != '.' {
		return false
	}
	for i := 1; i < len(ext); i++ {
		c := ext[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// CleanFilename reduces a client-declared filename to a display-only base
// name. It returns "" when nothing usable remains.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(path.Base(strings.TrimSpace(name)))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}
