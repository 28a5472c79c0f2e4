package studio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

const (
	maxImageDepth = 20
	maxModelDepth = 15
	maxTextDepth  = 10
)

// ParseAIStudio extracts generated images and model text from a
// GenerateContent response body. The body is a nested JSON array; images
// appear as ["image/png", <base64>] pairs and model turns as [<parts>, "model"].
func ParseAIStudio(body []byte) (images [][]byte, text string, err error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, "", err
	}
	findImages(data, &images, 0)
	var texts []string
	if arr, ok := data.([]any); ok && len(arr) > 0 {
		findModelTurns(arr, &texts, 0)
	}
	return images, strings.Join(texts, ""), nil
}

func findImages(data any, out *[][]byte, depth int) {
	if depth > maxImageDepth {
		return
	}
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			pair, ok := item.([]any)
			if !ok {
				findImages(item, out, depth+1)
				continue
			}
			if len(pair) >= 2 && pair[0] == "image/png" {
				if s, ok := pair[1].(string); ok {
					if img, ok := decodePNG(s); ok {
						*out = append(*out, img)
					}
					continue
				}
			}
			findImages(pair, out, depth+1)
		}
	case map[string]any:
		for _, val := range v {
			findImages(val, out, depth+1)
		}
	}
}

func decodePNG(s string) ([]byte, bool) {
	if len(s) < 100 {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !bytes.HasPrefix(b, pngHeader) {
		return nil, false
	}
	return b, true
}

func findModelTurns(data []any, texts *[]string, depth int) {
	if depth > maxModelDepth {
		return
	}
	for _, item := range data {
		arr, ok := item.([]any)
		if !ok {
			continue
		}
		if len(arr) >= 2 && arr[1] == "model" {
			collectText(arr[0], texts, 0)
			continue
		}
		findModelTurns(arr, texts, depth+1)
	}
}

func collectText(data any, texts *[]string, depth int) {
	if depth > maxTextDepth {
		return
	}
	switch v := data.(type) {
	case string:
		if strings.TrimSpace(v) != "" && len(v) < 1000 && textual(v) {
			*texts = append(*texts, v)
		}
	case []any:
		for _, item := range v {
			pair, ok := item.([]any)
			if ok && len(pair) >= 2 {
				if pair[0] == nil {
					if s, ok := pair[1].(string); ok {
						if s = strings.TrimSpace(s); s != "" && textual(s) {
							*texts = append(*texts, s)
						}
						continue
					}
				}
				if pair[0] == "image/png" {
					continue
				}
			}
			collectText(item, texts, depth+1)
		}
	}
}

// textual filters out tokens and inline image payloads.
func textual(s string) bool {
	return !strings.HasPrefix(s, "v1:") && s != "image/png" && !strings.HasPrefix(s, "iVBORw0KGgo")
}
