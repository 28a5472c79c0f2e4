package e2e

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"genpool/internal/manager"
	"genpool/internal/studio"
	"genpool/pkg/types"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestE2E_GenerateThroughPool(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{}, studio.SimulatedOptions{})
	p.addInstances(t, 2)

	h := p.health(t)
	if h.Status != "healthy" || h.Counts.Total != 2 || h.ConcurrencyCapacity != 2 {
		t.Fatalf("unexpected health: %+v", h)
	}

	status, out := p.generate(t, types.GenerateRequest{Prompt: "a fox", AspectRatio: "16:9"})
	if status != http.StatusOK || !out.Success {
		t.Fatalf("generate: %d %+v", status, out)
	}
	if len(out.GeneratedImages) != 1 {
		t.Fatalf("expected one image, got %d", len(out.GeneratedImages))
	}
	img, err := base64.StdEncoding.DecodeString(out.GeneratedImages[0])
	if err != nil || !bytes.HasPrefix(img, pngMagic) {
		t.Fatalf("image is not a PNG: %v", err)
	}
	if out.Attempts != 1 || out.TaskID == "" {
		t.Fatalf("unexpected task bookkeeping: %+v", out)
	}
	// the instance ran cleanup and is idle again
	p.waitAvailable(t, 2)
}

func TestE2E_ConcurrentRequestsShareInstances(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{}, studio.SimulatedOptions{Latency: 30 * time.Millisecond})
	p.addInstances(t, 2)

	const n = 6
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, out := p.generate(t, types.GenerateRequest{Prompt: "lighthouse at dusk"})
			results <- status == http.StatusOK && out.Success
		}()
	}
	wg.Wait()
	close(results)
	for ok := range results {
		if !ok {
			t.Fatalf("a concurrent request failed")
		}
	}
}

func TestE2E_TransientFailureExhaustsRetries(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{MaxRetries: 1, DisableAutoRestart: true}, studio.SimulatedOptions{})
	p.addInstances(t, 2)

	status, out := p.generate(t, types.GenerateRequest{Prompt: "always " + studio.MarkFail})
	if status != http.StatusOK {
		t.Fatalf("typed failures are reported in the body, got %d", status)
	}
	if out.Success || out.Reason != string(manager.ReasonRetriesExhausted) || out.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestE2E_FatalFailureIsNotRetried(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{MaxRetries: 3}, studio.SimulatedOptions{})
	p.addInstances(t, 1)

	_, out := p.generate(t, types.GenerateRequest{Prompt: studio.MarkFatal})
	if out.Success || out.Reason != string(manager.ReasonInvalidInput) || out.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestE2E_TextOnlyAnswerSucceeds(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{}, studio.SimulatedOptions{})
	p.addInstances(t, 1)

	_, out := p.generate(t, types.GenerateRequest{Prompt: "describe " + studio.MarkTextOut})
	if !out.Success || len(out.GeneratedImages) != 0 || out.AITextResponse == "" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestE2E_UnservableServiceIs503(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{}, studio.SimulatedOptions{})
	p.addInstances(t, 1)

	status, _ := p.generate(t, types.GenerateRequest{Prompt: "hi", Service: "doubao"})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestE2E_Backpressure429(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{MaxQueueDepth: 1}, studio.SimulatedOptions{Latency: 300 * time.Millisecond})
	p.addInstances(t, 1)

	statuses := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() {
			s, _ := p.generate(t, types.GenerateRequest{Prompt: "queued"})
			statuses <- s
		}()
	}
	got429 := false
	for i := 0; i < 3; i++ {
		if <-statuses == http.StatusTooManyRequests {
			got429 = true
		}
	}
	if !got429 {
		t.Fatalf("expected at least one 429")
	}
}

func TestE2E_StopAndRestartInstance(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{}, studio.SimulatedOptions{})
	ids := p.addInstances(t, 1)

	resp, body := httpPostJSON(t, p.mgmt.URL+"/api/instances/"+ids[0]+"/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d %s", resp.StatusCode, body)
	}
	if resp, _ := httpGet(t, p.api.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after stop: %d", resp.StatusCode)
	}

	resp, body = httpPostJSON(t, p.mgmt.URL+"/api/instances/"+ids[0]+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", resp.StatusCode, body)
	}
	p.waitAvailable(t, 1)
	if _, out := p.generate(t, types.GenerateRequest{Prompt: "back again"}); !out.Success {
		t.Fatalf("generate after restart: %+v", out)
	}
}

func TestE2E_QueueTimeoutReportsTaskID(t *testing.T) {
	p := newPool(t, manager.ManagerConfig{QueueTimeout: 50 * time.Millisecond}, studio.SimulatedOptions{Latency: 400 * time.Millisecond})
	p.addInstances(t, 1)

	first := make(chan int, 1)
	go func() {
		s, _ := p.generate(t, types.GenerateRequest{Prompt: "holds the only instance"})
		first <- s
	}()
	deadline := time.Now().Add(3 * time.Second)
	for p.health(t).Counts.Busy != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first task never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := httpPostJSON(t, p.api.URL+"/generate", []byte(`{"prompt":"waits too long"}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", resp.StatusCode, body)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.TaskID == "" {
		t.Fatalf("429 body should name the task: %s", body)
	}
	if s := <-first; s != http.StatusOK {
		t.Fatalf("first request: %d", s)
	}
}
