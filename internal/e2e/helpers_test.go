package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"genpool/internal/httpapi"
	"genpool/internal/manager"
	"genpool/internal/studio"
	"genpool/pkg/types"
)

type pool struct {
	mgr  *manager.Manager
	api  *httptest.Server
	mgmt *httptest.Server
}

// newPool runs a manager of simulated instances behind both HTTP servers.
func newPool(t *testing.T, cfg manager.ManagerConfig, sim studio.SimulatedOptions) *pool {
	t.Helper()
	events := manager.NewBroadcaster(0)
	cfg.Factory = studio.NewFactory(studio.FactoryOptions{Simulated: sim})
	cfg.DefaultKind = types.ServiceSimulated
	cfg.Publisher = events
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}
	mgr := manager.NewWithConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	p := &pool{
		mgr:  mgr,
		api:  httptest.NewServer(httpapi.NewMux(mgr)),
		mgmt: httptest.NewServer(httpapi.NewManagementMux(mgr, events)),
	}
	t.Cleanup(func() {
		p.api.Close()
		p.mgmt.Close()
		cancel()
		<-done
		_ = mgr.Close(context.Background())
	})
	return p
}

// addInstances creates and starts n instances through the management API and
// waits until the pool reports them available.
func (p *pool) addInstances(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp, body := httpPostJSON(t, p.mgmt.URL+"/api/instances", []byte(`{"service":"simulated","start":true}`))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create instance: %d %s", resp.StatusCode, body)
		}
		var ir types.InstanceResponse
		if err := json.Unmarshal(body, &ir); err != nil {
			t.Fatalf("decode instance: %v", err)
		}
		ids = append(ids, ir.Instance.ID)
	}
	p.waitAvailable(t, n)
	return ids
}

func (p *pool) waitAvailable(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := p.health(t).Counts.Available; got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool did not reach %d available instances", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *pool) health(t *testing.T) types.HealthResponse {
	t.Helper()
	_, body := httpGet(t, p.api.URL+"/health")
	var h types.HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatalf("decode health: %v body=%s", err, body)
	}
	return h
}

func (p *pool) generate(t *testing.T, req types.GenerateRequest) (int, types.GenerateResponse) {
	t.Helper()
	payload, _ := json.Marshal(req)
	resp, body := httpPostJSON(t, p.api.URL+"/generate", payload)
	var out types.GenerateResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode generate: %v body=%s", err, body)
		}
	}
	return resp.StatusCode, out
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
