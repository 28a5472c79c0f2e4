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

// DoubaoHomeURL is the chat entry page.
const DoubaoHomeURL = "https://www.doubao.com/chat/"

var doubaoCompletion = regexp.MustCompile(`/samantha/chat/completion`)

var doubaoSel = struct {
	loginModal  string
	textInput   string
	send        string
	skill       string
	skillActive string
	ratioButton string
	menuItem    string
	fileInput   string
}{
	loginModal:  `[data-testid="login_content"]`,
	textInput:   `[data-testid="chat_input_input"]`,
	send:        `[data-testid="chat_input_send_button"]`,
	skill:       `[data-testid="skill_bar_button_3"]`,
	skillActive: `[data-testid="skill_bar_button_3"][aria-pressed="true"]`,
	ratioButton: `[data-testid="image-creation-chat-input-picture-ration-button"]`,
	menuItem:    `[data-testid="dropdown-menu-item"]`,
	fileInput:   `input[type="file"]`,
}

// Doubao drives the Doubao image creation skill.
type Doubao struct {
	holder
	homeURL string
}

// NewDoubao returns a client that opens its page with open.
func NewDoubao(open Opener, log zerolog.Logger) *Doubao {
	return &Doubao{holder: holder{open: open, log: log}, homeURL: DoubaoHomeURL}
}

// Initialize opens the session and fails with login_required when the
// login dialog is shown.
func (c *Doubao) Initialize(ctx context.Context) error {
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

func (c *Doubao) checkLogin(ctx context.Context, p page) error {
	if ok, _ := p.Visible(ctx, doubaoSel.loginModal); ok {
		return manager.NewTaskError(manager.ReasonLoginRequired, false, errors.New("doubao login dialog shown"))
	}
	return nil
}

// SubmitTask selects the image skill, applies the ratio and images, sends the
// prompt and downloads the generated images from the completion stream.
func (c *Doubao) SubmitTask(ctx context.Context, job manager.Job) (manager.Output, error) {
	p, err := c.current()
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	log := c.log.With().Str("task_id", job.TaskID).Int("attempt", job.Attempt).Logger()

	if err := c.checkLogin(ctx, p); err != nil {
		return manager.Output{}, err
	}
	if ok, _ := p.Visible(ctx, doubaoSel.skillActive); !ok {
		if err := p.Click(ctx, doubaoSel.skill); err != nil {
			return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, fmt.Errorf("select image skill: %w", err))
		}
	}
	if idx, ok := doubaoRatioIndex[job.AspectRatio]; ok {
		if err := c.setRatio(ctx, p, idx); err != nil {
			log.Warn().Err(err).Str("ratio", string(job.AspectRatio)).Msg("set aspect ratio")
		}
	}
	if len(job.Images) > 0 {
		files := make([]browser.File, 0, len(job.Images))
		for i, img := range job.Images {
			name, mime := uploadName(i, img)
			files = append(files, browser.File{Name: name, MimeType: mime, Data: img})
		}
		if err := p.SetInputFiles(ctx, doubaoSel.fileInput, files); err != nil {
			return manager.Output{}, manager.NewTaskError(manager.ReasonUploadFailed, true, err)
		}
	}
	if err := p.Fill(ctx, doubaoSel.textInput, job.Prompt); err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}

	body, err := p.ExpectResponse(ctx, doubaoCompletion, func() error {
		return p.Click(ctx, doubaoSel.send)
	})
	if err != nil {
		if ctx.Err() != nil {
			return manager.Output{}, ctx.Err()
		}
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}
	urls, text, err := ParseDoubaoStream(body)
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonPageError, true, err)
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
	log.Debug().Int("images", len(images)).Int("text_len", len(text)).Msg("doubao stream parsed")
	return manager.Output{Images: images, Text: strings.TrimSpace(text)}, nil
}

func (c *Doubao) setRatio(ctx context.Context, p page, idx int) error {
	if err := p.Click(ctx, doubaoSel.ratioButton); err != nil {
		return err
	}
	if err := p.ClickNth(ctx, doubaoSel.menuItem, idx); err != nil {
		return err
	}
	// close the dropdown
	_, err := p.Evaluate(ctx, "() => document.body.click()")
	return err
}

// Cleanup starts a new conversation from the home page.
func (c *Doubao) Cleanup(ctx context.Context) error {
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
