package utils

import (
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// DetectContentType resolves a content type for an upload, first by extension and then
// by sniffing the head of r. r is rewound to the start before returning.
func DetectContentType(name string, r io.ReadSeeker) string {
	if isTextLike(name) {
		return "text/plain; charset=utf-8"
	}
	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		return byExt
	}
	if r == nil {
		return octetStream
	}

	mtype, err := mimetype.DetectReader(r)
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return octetStream
	}
	return mtype.String()
}

func isTextLike(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") ||
		strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, ".toml") ||
		strings.HasSuffix(name, ".md")
}
