package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/aleck31/aibox/internal/config"
	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/service"
	"github.com/aleck31/aibox/internal/sessions"
)

var errUpstream = errors.New("upstream unavailable")

type cannedAdapter struct {
	provider catalog.APIProvider
	chunks   []*providers.StreamChunk
}

func (a *cannedAdapter) Name() catalog.APIProvider { return a.provider }

func (a *cannedAdapter) Generate(ctx context.Context, req *providers.Request) (string, error) {
	ch, err := a.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return providers.Collect(ch)
}

func (a *cannedAdapter) GenerateStream(context.Context, *providers.Request) (<-chan *providers.StreamChunk, error) {
	out := make(chan *providers.StreamChunk, len(a.chunks))
	for _, c := range a.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	registry := catalog.NewRegistry([]*catalog.Model{
		{ID: "claude-sonnet", Provider: catalog.ProviderAnthropic, Capabilities: []catalog.Capability{catalog.CapChat, catalog.CapVision}},
		{ID: "gpt-4o", Provider: catalog.ProviderOpenAI, Capabilities: []catalog.Capability{catalog.CapChat, catalog.CapTools}},
	}, map[string]string{"chatbot": "claude-sonnet", "agent": "gpt-4o"})

	adapters := providers.NewRegistry()
	adapters.Register(&cannedAdapter{provider: catalog.ProviderAnthropic, chunks: []*providers.StreamChunk{
		{Text: "hello "},
		{Text: "world"},
	}})
	adapters.Register(&cannedAdapter{provider: catalog.ProviderOpenAI, chunks: []*providers.StreamChunk{
		{Text: "agent reply"},
	}})

	modules := map[string]config.ModuleConfig{
		"chatbot": {DefaultModel: "claude-sonnet"},
		"agent":   {DefaultModel: "gpt-4o"},
	}
	base := service.NewBaseService(sessions.NewMemoryStore(), registry, modules, nil)
	chat := service.NewChatService(base, adapters)
	agents := service.NewAgentService(service.AgentServiceOpts{
		Base:          base,
		Adapters:      adapters,
		MaxIterations: 3,
	})

	srv := NewServer(":0", chat, agents, nil)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(raw)
}

func TestChatStreamEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/chat/stream", `{"user_id":"alice","message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	for _, want := range []string{"event: start", `"session_id"`, "event: content", `"text":"hello "`, "event: end"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestChatStreamErrorEvent(t *testing.T) {
	registry := catalog.NewRegistry([]*catalog.Model{
		{ID: "claude-sonnet", Provider: catalog.ProviderAnthropic, Capabilities: []catalog.Capability{catalog.CapChat}},
	}, map[string]string{"chatbot": "claude-sonnet"})

	adapters := providers.NewRegistry()
	adapters.Register(&cannedAdapter{provider: catalog.ProviderAnthropic, chunks: []*providers.StreamChunk{
		{Err: errUpstream},
	}})

	base := service.NewBaseService(sessions.NewMemoryStore(), registry,
		map[string]config.ModuleConfig{"chatbot": {DefaultModel: "claude-sonnet"}}, nil)
	chat := service.NewChatService(base, adapters)
	agents := service.NewAgentService(service.AgentServiceOpts{Base: base, Adapters: adapters})

	srv := NewServer(":0", chat, agents, nil)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)

	resp, body := postJSON(t, ts.URL+"/v1/chat/stream", `{"user_id":"alice","message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("body missing error event:\n%s", body)
	}
	if strings.Contains(body, "event: end") {
		t.Errorf("errored stream should not end normally:\n%s", body)
	}
}

func TestChatStreamValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/v1/chat/stream", `{"user_id":"alice"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing message: status = %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/chat/stream", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", resp.StatusCode)
	}
}

func TestAgentStreamEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/agent/stream", `{"user_id":"alice","module":"agent","message":"go"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"text":"agent reply"`) {
		t.Errorf("body missing agent text:\n%s", body)
	}
}

func TestAgentClearEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/agent/clear", `{"user_id":"alice","module":"agent","message":"-"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "cleared" || out["session_id"] == "" {
		t.Errorf("response = %v", out)
	}
}

type stubImageAPI struct{}

func (stubImageAPI) InvokeModel(_ context.Context, _ *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	png := base64.StdEncoding.EncodeToString([]byte("fake-png"))
	body, _ := json.Marshal(map[string]any{"images": []string{png}})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestGenerateImageEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	// No image model configured yet.
	resp, _ := postJSON(t, ts.URL+"/v1/images", `{"prompt":"a red fox"}`)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("without client: status = %d", resp.StatusCode)
	}

	srv.chat.SetImageClient(providers.NewImageClientWithAPI(stubImageAPI{}, "amazon.titan-image-generator-v2:0"))

	resp, body := postJSON(t, ts.URL+"/v1/images", `{"prompt":"a red fox"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var out struct {
		Images []string `json:"images"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Images) != 1 {
		t.Fatalf("images = %d", len(out.Images))
	}
	raw, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "fake-png" {
		t.Errorf("image payload = %q", raw)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/images", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing prompt: status = %d", resp.StatusCode)
	}
}

func TestSetModelEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/sessions/model",
		strings.NewReader(`{"user_id":"alice","module":"chatbot","model_id":"gpt-4o"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// An unknown model is rejected.
	req, err = http.NewRequest(http.MethodPut, ts.URL+"/v1/sessions/model",
		strings.NewReader(`{"user_id":"alice","module":"chatbot","model_id":"bogus"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown model: status = %d", resp.StatusCode)
	}
}

func TestListModelsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/models?capability=tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["id"] != "gpt-4o" {
		t.Errorf("filtered models = %v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "ok" || got["agent_mode"] != "local" {
		t.Errorf("health = %v", got)
	}
}
