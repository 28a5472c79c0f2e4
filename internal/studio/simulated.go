package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"time"

	"genpool/internal/manager"
	"genpool/pkg/types"
)

// Prompt markers understood by the simulated client.
const (
	MarkFail    = "[fail]"  // transient page error
	MarkFatal   = "[fatal]" // non-retryable invalid input
	MarkEmpty   = "[empty]" // neither images nor text
	MarkSlow    = "[slow]"  // ten times the configured latency
	MarkTextOut = "[text]"  // text answer without images
	MarkFault   = "[crash]" // instance fault
)

// SimulatedOptions tunes the simulated client.
type SimulatedOptions struct {
	// Latency is how long a generation takes.
	Latency time.Duration
	// StartLatency is how long Initialize takes.
	StartLatency time.Duration
}

// Simulated is an in-process client that renders a deterministic PNG per
// prompt. It keeps a conversation that must be reset by Cleanup before the
// next task.
type Simulated struct {
	opts SimulatedOptions

	mu     sync.Mutex
	open   bool
	turns  int
	closed bool
}

// NewSimulated returns a simulated client.
func NewSimulated(opts SimulatedOptions) *Simulated {
	return &Simulated{opts: opts}
}

func (s *Simulated) Initialize(ctx context.Context) error {
	if err := sleep(ctx, s.opts.StartLatency); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("client closed")
	}
	s.open = true
	s.turns = 0
	return nil
}

func (s *Simulated) SubmitTask(ctx context.Context, job manager.Job) (manager.Output, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return manager.Output{}, manager.NewTaskError(manager.ReasonInstanceFault, true, errNotInitialized)
	}
	if s.turns > 0 {
		s.mu.Unlock()
		return manager.Output{}, manager.NewTaskError(manager.ReasonPageError, true, errors.New("previous conversation still open"))
	}
	s.turns++
	s.mu.Unlock()

	latency := s.opts.Latency
	if strings.Contains(job.Prompt, MarkSlow) {
		latency *= 10
	}
	if err := sleep(ctx, latency); err != nil {
		return manager.Output{}, err
	}

	switch {
	case strings.Contains(job.Prompt, MarkFatal):
		return manager.Output{}, manager.NewTaskError(manager.ReasonInvalidInput, false, errors.New("prompt rejected"))
	case strings.Contains(job.Prompt, MarkFault):
		s.mu.Lock()
		s.open = false
		s.mu.Unlock()
		return manager.Output{}, manager.NewTaskError(manager.ReasonInstanceFault, true, errors.New("page crashed"))
	case strings.Contains(job.Prompt, MarkFail):
		return manager.Output{}, manager.NewTaskError(manager.ReasonPageError, true, errors.New("simulated page error"))
	case strings.Contains(job.Prompt, MarkEmpty):
		return manager.Output{}, nil
	case strings.Contains(job.Prompt, MarkTextOut):
		return manager.Output{Text: "simulated answer: " + job.Prompt}, nil
	}

	img, err := Render(job.Prompt, job.AspectRatio, len(job.Images))
	if err != nil {
		return manager.Output{}, manager.NewTaskError(manager.ReasonPageError, true, err)
	}
	return manager.Output{
		Images: [][]byte{img},
		Text:   fmt.Sprintf("simulated image for %q (%d reference images)", job.Prompt, len(job.Images)),
	}, nil
}

func (s *Simulated) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotInitialized
	}
	s.turns = 0
	return nil
}

func (s *Simulated) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotInitialized
	}
	return nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closed = true
	return nil
}

// Render draws a small solid PNG whose color derives from prompt and whose
// shape follows ratio.
func Render(prompt string, ratio types.AspectRatio, refs int) ([]byte, error) {
	w, h := ratioSize(ratio, 64)
	hs := fnv.New32a()
	hs.Write([]byte(prompt))
	hs.Write([]byte{byte(refs)})
	sum := hs.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ratioSize(ratio types.AspectRatio, base int) (int, int) {
	a, b, ok := strings.Cut(string(ratio), ":")
	if !ok {
		return base, base
	}
	x, err1 := strconv.Atoi(a)
	y, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || x <= 0 || y <= 0 {
		return base, base
	}
	if x >= y {
		return base * x / y, base
	}
	return base, base * y / x
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
