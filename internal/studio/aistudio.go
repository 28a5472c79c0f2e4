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
	"genpool/pkg/types"
)

// AIStudioNewChatURL opens a fresh image-model chat.
const AIStudioNewChatURL = "https://aistudio.google.com/prompts/new_chat?model=gemini-2.5-flash-image"

var aistudioResponse = regexp.MustCompile(`GenerateContent`)

var aistudioSel = struct {
	prompt       []string
	run          []string
	fileInput    string
	insertAssets []string
	copyrightAck []string
	backdrop     string
	moreActions  string
	deleteButton string
	confirmDel   string
	ratioControl string
}{
	prompt:       []string{"ms-autosize-textarea textarea", "ms-text-chunk textarea", `textarea[aria-label*="Type something"]`},
	run:          []string{"ms-run-button button", `button[aria-label="Run"]`},
	fileInput:    `input[type="file"]`,
	insertAssets: []string{"ms-add-chunk-menu button", `button[aria-label*="Insert assets"]`},
	copyrightAck: []string{`button:has-text("Acknowledge")`, `button:has-text("I acknowledge")`},
	backdrop:     ".cdk-overlay-backdrop",
	moreActions:  `button[aria-label="View more actions"][iconname="more_vert"]`,
	deleteButton: `button[data-test-delete=""]`,
	confirmDel:   `button.ms-button-primary:has-text("Delete")`,
	ratioControl: `div[mattooltip="Aspect ratio of the generated images"]`,
}

// loginCheck is true when the page shows a signed-in Google account.
const loginCheck = `() => {
  if (location.host.startsWith("accounts.google.")) return false;
  if (/[A-Za-z0-9._%+-]+@(gmail|googlemail)\.com/.test(document.body ? document.body.innerText : "")) return true;
  const img = document.querySelector('connect-avatar img, img.avatar, .account-switcher-button img');
  if (img && (img.src || "").includes("googleusercontent.com")) return true;
  return !!document.querySelector('.account-switcher-container, alkali-accountswitcher, [aria-label*="Google Account"], [aria-label*="Google 账号"]');
}`

// AIStudio drives Google AI Studio image chats.
type AIStudio struct {
	holder
	newChatURL string
}

// NewAIStudio returns a client that opens its page with open.
func NewAIStudio(open Opener, log zerolog.Logger) *AIStudio {
	return &AIStudio{holder: holder{open: open, log: log}, newChatURL: AIStudioNewChatURL}
}

// Initialize opens the session, lands on a new chat and checks the account.
func (c *AIStudio) Initialize(ctx context.Context) error {
	p, err := c.ensure(ctx)
	if err != nil {
		return manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	if err := p.Goto(ctx, c.newChatURL); err != nil {
		return manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	in, err := p.Evaluate(ctx, loginCheck)
	if err != nil {
		return manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	if ok, _ := in.(bool); !ok {
		return manager.NewTaskError(manager.ReasonLoginRequired, false, errors.New("google account is not signed in"))
	}
	c.saveCookies(ctx, p)
	return nil
}

// SubmitTask sets the ratio, attaches images, sends the prompt and parses the
// GenerateContent response.
func (c *AIStudio) SubmitTask(ctx context.Context, job manager.Job) (manager.Output, error) {
	p, err := c.current()
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonInstanceFault, true, err)
	}
	log := c.log.With().Str("task_id", job.TaskID).Int("attempt", job.Attempt).Logger()

	if job.AspectRatio != "" && job.AspectRatio != types.AspectAuto {
		if err := c.setRatio(ctx, p, job.AspectRatio); err != nil {
			log.Warn().Err(err).Str("ratio", string(job.AspectRatio)).Msg("set aspect ratio")
			c.dismissMenu(ctx, p)
		}
	}
	for i, img := range job.Images {
		if err := c.upload(ctx, p, i, img); err != nil {
			return manager.Output{}, manager.NewTaskError(manager.ReasonUploadFailed, true, err)
		}
	}

	prompt, ok := firstVisible(ctx, p, aistudioSel.prompt...)
	if !ok {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, errors.New("prompt input not found"))
	}
	if err := p.Fill(ctx, prompt, job.Prompt); err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}
	run, ok := firstVisible(ctx, p, aistudioSel.run...)
	if !ok {
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, errors.New("run button not found"))
	}

	body, err := p.ExpectResponse(ctx, aistudioResponse, func() error {
		return p.Click(ctx, run)
	})
	if err != nil {
		if ctx.Err() != nil {
			return manager.Output{}, ctx.Err()
		}
		return manager.Output{}, manager.NewTaskError(manager.ReasonSubmitFailed, true, err)
	}
	images, text, err := ParseAIStudio(body)
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonNoResult, true, fmt.Errorf("decode response: %w", err))
	}
	log.Debug().Int("images", len(images)).Int("text_len", len(text)).Msg("aistudio response parsed")
	return manager.Output{Images: images, Text: strings.TrimSpace(text)}, nil
}

func (c *AIStudio) setRatio(ctx context.Context, p page, ratio types.AspectRatio) error {
	if err := p.Click(ctx, aistudioSel.ratioControl); err != nil {
		return err
	}
	return p.Click(ctx, fmt.Sprintf(`mat-option:has-text("%s")`, ratio))
}

func (c *AIStudio) upload(ctx context.Context, p page, i int, data []byte) error {
	if n, err := p.Count(ctx, aistudioSel.fileInput); err != nil || n == 0 {
		sel, ok := firstVisible(ctx, p, aistudioSel.insertAssets...)
		if !ok {
			return errors.New("insert assets button not found")
		}
		if err := p.Click(ctx, sel); err != nil {
			return err
		}
	}
	name, mime := uploadName(i, data)
	if err := p.SetInputFiles(ctx, aistudioSel.fileInput, []browser.File{{Name: name, MimeType: mime, Data: data}}); err != nil {
		return err
	}
	if sel, ok := firstVisible(ctx, p, aistudioSel.copyrightAck...); ok {
		_ = p.Click(ctx, sel)
	}
	c.dismissMenu(ctx, p)
	return nil
}

func (c *AIStudio) dismissMenu(ctx context.Context, p page) {
	if ok, _ := p.Visible(ctx, aistudioSel.backdrop); ok {
		_ = p.Click(ctx, aistudioSel.backdrop)
	}
}

// Cleanup deletes the conversation when the page allows it and returns to a
// new chat. Only failing to reach the new chat is an error.
func (c *AIStudio) Cleanup(ctx context.Context) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	c.dismissMenu(ctx, p)
	if err := c.deleteConversation(ctx, p); err != nil {
		c.log.Info().Err(err).Msg("conversation not deleted")
	}
	if err := p.Goto(ctx, c.newChatURL); err != nil {
		return fmt.Errorf("open new chat: %w", err)
	}
	c.saveCookies(ctx, p)
	return nil
}

var errDeleteUnavailable = errors.New("delete action unavailable")

func (c *AIStudio) deleteConversation(ctx context.Context, p page) error {
	if ok, _ := p.Visible(ctx, aistudioSel.moreActions); !ok {
		return errDeleteUnavailable
	}
	if err := p.Click(ctx, aistudioSel.moreActions); err != nil {
		return err
	}
	if ok, _ := p.Enabled(ctx, aistudioSel.deleteButton); !ok {
		c.dismissMenu(ctx, p)
		return errDeleteUnavailable
	}
	if err := p.Click(ctx, aistudioSel.deleteButton); err != nil {
		return err
	}
	return p.Click(ctx, aistudioSel.confirmDel)
}
