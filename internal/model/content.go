package model

import (
	"mime"
	"strings"
)

// ContentClass is the coarse kind of a message body, decided once from its Content-Type.
type ContentClass int

const (
	ContentOther ContentClass = iota
	ContentJSON
	ContentText
)

// Preview limits in characters, per class.
const (
	jsonPreviewLimit = 500
	textPreviewLimit = 200
)

func (c ContentClass) String() string {
	switch c {
	case ContentJSON:
		return "json"
	case ContentText:
		return "text"
	default:
		return "other"
	}
}

// PreviewLimit returns how many characters of a body of this class may be
// logged. Zero means the body is never captured.
func (c ContentClass) PreviewLimit() int {
	switch c {
	case ContentJSON:
		return jsonPreviewLimit
	case ContentText:
		return textPreviewLimit
	default:
		return 0
	}
}

// ClassifyContentType maps a Content-Type header value to a ContentClass.
// Structured-syntax suffixes such as application/problem+json count as JSON.
func ClassifyContentType(contentType string) ContentClass {
	if contentType == "" {
		return ContentOther
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return ContentJSON
	case strings.HasPrefix(mediaType, "text/"):
		return ContentText
	default:
		return ContentOther
	}
}
