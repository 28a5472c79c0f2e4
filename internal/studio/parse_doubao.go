package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Doubao stream event and content type codes.
const (
	doubaoEventMessage = 2001
	doubaoEventEnd     = 2003

	doubaoContentText  = 10000
	doubaoContentImage = 2074

	doubaoImageDone = 2
)

// ErrGateway is returned when the completion stream carries a gateway error.
var ErrGateway = errors.New("doubao gateway error")

type doubaoEvent struct {
	EventType int    `json:"event_type"`
	EventData string `json:"event_data"`
}

type doubaoMessage struct {
	Message *struct {
		ContentType int    `json:"content_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

type doubaoURL struct {
	URL string `json:"url"`
}

type doubaoCreations struct {
	Creations []struct {
		Image struct {
			Status      int        `json:"status"`
			ImageOriRaw *doubaoURL `json:"image_ori_raw"`
			ImageOri    *doubaoURL `json:"image_ori"`
			ImagePrev   *doubaoURL `json:"image_preview"`
			ImageThumb  *doubaoURL `json:"image_thumb"`
		} `json:"image"`
	} `json:"creations"`
}

// ParseDoubaoStream reads a completed /samantha/chat/completion SSE body and
// returns image URLs (best quality first per creation) and the joined text.
func ParseDoubaoStream(body []byte) (urls []string, text string, err error) {
	var sb strings.Builder
	for _, block := range strings.Split(string(body), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		if strings.Contains(block, "event: gateway-error") {
			return nil, "", streamError(ErrGateway, block)
		}
		data, ok := dataLine(block)
		if !ok {
			continue
		}
		var ev doubaoEvent
		if json.Unmarshal([]byte(data), &ev) != nil {
			continue
		}
		if ev.EventType == doubaoEventEnd {
			break
		}
		if ev.EventType != doubaoEventMessage || ev.EventData == "" {
			continue
		}
		var msg doubaoMessage
		if json.Unmarshal([]byte(ev.EventData), &msg) != nil || msg.Message == nil {
			continue
		}
		switch msg.Message.ContentType {
		case doubaoContentText:
			var c struct {
				Text string `json:"text"`
			}
			if json.Unmarshal([]byte(msg.Message.Content), &c) == nil {
				sb.WriteString(c.Text)
			}
		case doubaoContentImage:
			var c doubaoCreations
			if json.Unmarshal([]byte(msg.Message.Content), &c) != nil {
				continue
			}
			for _, cr := range c.Creations {
				if cr.Image.Status != doubaoImageDone {
					continue
				}
				if u := firstURL(cr.Image.ImageOriRaw, cr.Image.ImageOri, cr.Image.ImagePrev, cr.Image.ImageThumb); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	return urls, sb.String(), nil
}

func dataLine(block string) (string, bool) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.HasPrefix(line, "data: ") {
			return line[len("data: "):], true
		}
	}
	return "", false
}

// streamError wraps base with the message of an SSE error event, if any.
func streamError(base error, block string) error {
	data, ok := dataLine(block)
	if !ok {
		return base
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(data), &payload) == nil && payload.Message != "" {
		return fmt.Errorf("%w: %s", base, payload.Message)
	}
	return base
}

func firstURL(candidates ...*doubaoURL) string {
	for _, c := range candidates {
		if c != nil && c.URL != "" {
			return c.URL
		}
	}
	return ""
}
