package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// GrokAssetsURL serves generated images referenced by relative path.
const GrokAssetsURL = "https://assets.grok.com/"

// ErrGrokStream is returned when the Grok response carries an error.
var ErrGrokStream = errors.New("grok stream error")

// Text is taken from the first of these keys holding a string.
var grokTextKeys = []string{"token", "text", "content", "reply", "answer", "output", "message"}

// Containers searched for text when no text key matched.
var grokNestKeys = []string{"result", "response", "data"}

// Keys whose string values, or nested "url" values, are image references.
var grokImageKeys = map[string]bool{
	"images":             true,
	"image":              true,
	"imageUrl":           true,
	"image_url":          true,
	"imageUrls":          true,
	"image_urls":         true,
	"generatedImageUrls": true,
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

// ParseGrok reads a Grok chat response. The body may be one JSON document,
// an SSE stream or newline-delimited JSON. Image URLs keep first-seen order
// without duplicates; text fragments are joined.
func ParseGrok(body []byte) (urls []string, text string, err error) {
	docs, err := grokDocuments(body)
	if err != nil {
		return nil, "", err
	}
	var sb strings.Builder
	seen := map[string]bool{}
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, doc := range docs {
		if m, ok := doc.(map[string]any); ok && m["error"] != nil {
			return nil, "", grokError(m["error"])
		}
		sb.WriteString(grokText(doc))
		grokImages(doc, false, add)
	}
	return urls, sb.String(), nil
}

func grokDocuments(body []byte) ([]any, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return nil, errors.New("empty grok response")
	}
	var whole any
	if json.Unmarshal([]byte(s), &whole) == nil {
		return []any{whole}, nil
	}
	var docs []any
	if strings.Contains(s, "data: ") {
		for _, block := range strings.Split(s, "\n\n") {
			if strings.Contains(block, "event: error") {
				return nil, streamError(ErrGrokStream, block)
			}
			data, ok := dataLine(block)
			if !ok || data == "[DONE]" {
				continue
			}
			var doc any
			if json.Unmarshal([]byte(data), &doc) == nil {
				docs = append(docs, doc)
			}
		}
	} else {
		for _, line := range strings.Split(s, "\n") {
			var doc any
			if json.Unmarshal([]byte(strings.TrimSpace(line)), &doc) == nil {
				docs = append(docs, doc)
			}
		}
	}
	if len(docs) == 0 {
		return nil, errors.New("grok response holds no json")
	}
	return docs, nil
}

func grokError(v any) error {
	switch e := v.(type) {
	case string:
		return fmt.Errorf("%w: %s", ErrGrokStream, e)
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return fmt.Errorf("%w: %s", ErrGrokStream, msg)
		}
	}
	return ErrGrokStream
}

func grokText(v any) string {
	switch x := v.(type) {
	case []any:
		var sb strings.Builder
		for _, e := range x {
			sb.WriteString(grokText(e))
		}
		return sb.String()
	case map[string]any:
		for _, k := range grokTextKeys {
			switch val := x[k].(type) {
			case string:
				if val != "" {
					return val
				}
			case map[string]any:
				if t := grokText(val); t != "" {
					return t
				}
			}
		}
		for _, k := range grokNestKeys {
			if t := grokText(x[k]); t != "" {
				return t
			}
		}
		if msgs, ok := x["messages"].([]any); ok {
			return grokText(msgs)
		}
	}
	return ""
}

func grokImages(v any, inImage bool, add func(string)) {
	switch x := v.(type) {
	case string:
		if inImage {
			if u := grokImageURL(x); u != "" {
				add(u)
			}
		}
	case []any:
		for _, e := range x {
			grokImages(e, inImage, add)
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(x)) {
			grokImages(x[k], grokImageKeys[k] || (inImage && k == "url"), add)
		}
	}
}

// grokImageURL resolves an image reference. Relative paths with an image
// extension are served from the assets host.
func grokImageURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return s
	}
	if s == "" || strings.ContainsAny(s, " :") || !imageExts[strings.ToLower(path.Ext(s))] {
		return ""
	}
	return GrokAssetsURL + strings.TrimPrefix(s, "/")
}
