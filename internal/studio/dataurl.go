package studio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrEmptyImage is returned for a blank reference image entry.
var ErrEmptyImage = errors.New("empty image data")

// DecodeImage decodes a base64 image, accepting an optional
// "data:image/...;base64," prefix.
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, ErrEmptyImage
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some producers strip padding
		if b2, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err2 == nil {
			return b2, nil
		}
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyImage
	}
	return b, nil
}

// EncodeImage returns the plain base64 form used in API responses.
func EncodeImage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// uploadName names an in-memory upload after its detected type.
func uploadName(i int, data []byte) (name, mime string) {
	mt := mimetype.Detect(data)
	ext := mt.Extension()
	if ext == "" {
		ext = ".png"
	}
	return fmt.Sprintf("reference_%d%s", i+1, ext), mt.String()
}
