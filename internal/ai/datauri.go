package ai

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrBadDataURI indicates a media payload that is not a valid
// data:<mime>;base64,<payload> string.
var ErrBadDataURI = errors.New("ai: malformed data URI")

// FormatDataURI encodes raw bytes as a base64 data URI.
func FormatDataURI(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURI decodes a base64 data URI into its media type and raw bytes.
func ParseDataURI(uri string) (MediaPart, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return MediaPart{}, ErrBadDataURI
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return MediaPart{}, ErrBadDataURI
	}

	mimeType, encoding, hasEncoding := strings.Cut(meta, ";")
	if !hasEncoding || encoding != "base64" {
		return MediaPart{}, fmt.Errorf("%w: only base64 encoding is supported", ErrBadDataURI)
	}
	if mimeType == "" {
		return MediaPart{}, fmt.Errorf("%w: missing media type", ErrBadDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return MediaPart{}, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}

	return MediaPart{MIMEType: mimeType, Data: data}, nil
}
