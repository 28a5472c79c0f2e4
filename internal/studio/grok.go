package studio

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"genpool/internal/browser"
	"genpool/internal/manager"
)

// GrokHomeURL opens a new Grok conversation.
const GrokHomeURL = "https://grok.com/"

var grokResponse = regexp.MustCompile(`grok\.com/rest/app-chat/conversations/(new|[\w-]+/responses)`)

var grokSel = struct {
	loginModal  string
	loginButton string
	textInput   []string
	send        []string
	fileInput   string
}{
	loginModal:  `[data-testid="login"]`,
	loginButton: `button:has-text("Sign in")`,
	textInput: []string{
		`textarea[data-testid="composer-text-input"]`,
		`textarea[role="textbox"]`,
		`textarea`,
	},
	send: []string{
		`button[data-testid="send-button"]`,
		`button[aria-label*="Send"]`,
	},
	fileInput: `input[type="file"]`,
}

// Grok asks the Grok chat for images and downloads the ones it links.
type Grok struct {
	holder
	homeURL string
}

// NewGrok returns a client that opens its page with open.
func NewGrok(open Opener, log zerolog.Logger) *Grok {
	return &Grok{holder: holder{open: open, log: log}, homeURL: GrokHomeURL}
}

// Initialize opens the session and fails with login_required when a sign-in
// prompt is shown.
func (c *Grok) Initialize(ctx context.Context) error {
	p, err := c.ensure(ctx)
	if err != nil {
		return manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	if err := p.Goto(ctx, c.homeURL); err != nil {
		return manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	if err := c.checkLogin(ctx, p); err != nil {
		return err
	}
	c.saveCookies(ctx, p)
	return nil
}

func (c *Grok) checkLogin(ctx context.Context, p page) error {
	if _, ok := firstVisible(ctx, p, grokSel.loginModal, grokSel.loginButton); ok {
		return manager.NewTaskError(manager.ReasonLoginRequired, false, errors.New("grok sign-in shown"))
	}
	return nil
}

// SubmitTask attaches the reference images, sends the prompt and collects
// the images and text of the reply.
func (c *Grok) SubmitTask(ctx context.Context, job manager.Job) (manager.Output, error) {
	p, err := c.current()
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	log := c.log.With().Str("task_id", job.TaskID).Int("attempt", job.Attempt).Logger()

	if err := c.checkLogin(ctx, p); err != nil {
		return manager.Output{}, err
	}
	if len(job.Images) > 0 {
		files := make([]browser.File, 0, len(job.Images))
		for i, img := range job.Images {
			name, mime := uploadName(i, img)
			files = append(files, browser.File{Name: name, MimeType: mime, Data: img})
		}
		if err := p.SetInputFiles(ctx, grokSel.fileInput, files); err != nil {
			return manager.Output{}, manager.NewTaskError(manager.ReasonUploadFailed, true, err)
		}
	}
	input, ok := firstVisible(ctx, p, grokSel.textInput...)
	if !ok {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, errors.New("grok prompt box not found"))
	}
	if err := p.Fill(ctx, input, job.Prompt); err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}

	body, err := p.ExpectResponse(ctx, grokResponse, func() error {
		if send, ok := firstVisible(ctx, p, grokSel.send...); ok {
			return p.Click(ctx, send)
		}
		return p.Press(ctx, input, "Enter")
	})
	if err != nil {
		if ctx.Err() != nil {
			return manager.Output{}, ctx.Err()
		}
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}
	urls, text, err := ParseGrok(body)
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonPageError, true, err)
	}
	text = strings.TrimSpace(text)
	if len(urls) == 0 && text == "" {
		return manager.Output{}, manager.NewTaskError(manager.ReasonNoResult, true, errors.New("grok reply holds no image or text"))
	}
	images := make([][]byte, 0, len(urls))
	for _, u := range urls {
		b, err := p.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return manager.Output{}, ctx.Err()
			}
			log.Warn().Err(err).Str("url", u).Msg("download generated image")
			continue
		}
		images = append(images, b)
	}
	if len(urls) > 0 && len(images) == 0 {
		return manager.Output{}, manager.NewTaskError(manager.ReasonNoResult, true, errors.New("no generated image could be downloaded"))
	}
	log.Debug().Int("images", len(images)).Int("text_len", len(text)).Msg("grok reply parsed")
	return manager.Output{Images: images, Text: text}, nil
}

// Cleanup returns to the home page, which starts a new conversation.
func (c *Grok) Cleanup(ctx context.Context) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	if err := p.Goto(ctx, c.homeURL); err != nil {
		return fmt.Errorf("open new chat: %w", err)
	}
	c.saveCookies(ctx, p)
	return nil
}
