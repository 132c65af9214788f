package agent

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/observability"
	"github.com/aleck31/aibox/internal/tools"
	"github.com/aleck31/aibox/pkg/models"
)

const (
	// agentCoreService is the SigV4 service name for the runtime API.
	agentCoreService = "bedrock-agentcore"

	// invokeTimeout bounds one runtime invocation end to end.
	invokeTimeout = 600 * time.Second

	defaultQualifier = "DEFAULT"
)

// RuntimeARN is a parsed agent runtime ARN.
type RuntimeARN struct {
	Raw       string
	Region    string
	AccountID string
	RuntimeID string
}

// ParseRuntimeARN validates and splits an ARN of the form
// arn:aws:bedrock-agentcore:region:account:runtime/id.
func ParseRuntimeARN(arn string) (*RuntimeARN, error) {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid runtime ARN %q: expected 6 segments, got %d", arn, len(parts))
	}
	if parts[0] != "arn" || parts[2] != agentCoreService {
		return nil, fmt.Errorf("invalid runtime ARN %q: not a %s ARN", arn, agentCoreService)
	}
	resource := strings.SplitN(parts[5], "/", 2)
	if len(resource) != 2 || resource[0] != "runtime" || resource[1] == "" {
		return nil, fmt.Errorf("invalid runtime ARN %q: resource must be runtime/<id>", arn)
	}
	if parts[3] == "" {
		return nil, fmt.Errorf("invalid runtime ARN %q: missing region", arn)
	}
	return &RuntimeARN{
		Raw:       arn,
		Region:    parts[3],
		AccountID: parts[4],
		RuntimeID: resource[1],
	}, nil
}

// Endpoint is the invocation URL for this runtime.
func (a *RuntimeARN) Endpoint(qualifier string) string {
	if qualifier == "" {
		qualifier = defaultQualifier
	}
	return fmt.Sprintf("https://%s.%s.amazonaws.com/runtimes/%s/invocations?qualifier=%s",
		agentCoreService, a.Region, url.QueryEscape(a.Raw), url.QueryEscape(qualifier))
}

// CoreClient invokes a hosted agent runtime and re-emits its SSE
// events as normalized chunks. It implements Handle so services can
// swap it for the local Provider.
type CoreClient struct {
	arn       *RuntimeARN
	qualifier string
	creds     aws.CredentialsProvider
	signer    *v4.Signer
	http      *http.Client
	sessionID string
	system    string
	toolCfg   *tools.Config
	logger    *slog.Logger

	mu      sync.Mutex
	modelID string
	history []models.Message
}

// CoreClientOpts configures a remote runtime client for one session.
type CoreClientOpts struct {
	RuntimeARN string
	Qualifier  string
	SessionID  string
	// System is the system prompt forwarded to the runtime on every
	// invocation.
	System string
	// ToolConfig is forwarded so the runtime applies the same tool
	// policy as a local agent would.
	ToolConfig *tools.Config
	// Seed primes the conversation history of a fresh handle.
	Seed   []*models.Message
	Logger *slog.Logger
}

const defaultSystemPrompt = "You are a helpful AI assistant."

// NewCoreClient builds a client for one session against the runtime
// identified by opts.RuntimeARN.
func NewCoreClient(ctx context.Context, opts CoreClientOpts) (*CoreClient, error) {
	parsed, err := ParseRuntimeARN(opts.RuntimeARN)
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(parsed.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c := newCoreClient(parsed, awsCfg.Credentials, &http.Client{Timeout: invokeTimeout}, opts)
	c.qualifier = opts.Qualifier
	c.logger = c.logger.With("runtime", parsed.RuntimeID)
	return c, nil
}

func newCoreClient(arn *RuntimeARN, creds aws.CredentialsProvider, httpClient *http.Client, opts CoreClientOpts) *CoreClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	system := opts.System
	if system == "" {
		system = defaultSystemPrompt
	}
	var history []models.Message
	for _, m := range opts.Seed {
		if m != nil {
			history = append(history, *m)
		}
	}
	return &CoreClient{
		arn:       arn,
		creds:     creds,
		signer:    v4.NewSigner(),
		http:      httpClient,
		sessionID: opts.SessionID,
		system:    system,
		toolCfg:   opts.ToolConfig,
		logger:    logger.With("component", "agentcore"),
		history:   history,
	}
}

// NewCoreClientWithDeps injects credentials and an HTTP client, used
// by tests.
func NewCoreClientWithDeps(arn *RuntimeARN, creds aws.CredentialsProvider, httpClient *http.Client, opts CoreClientOpts) *CoreClient {
	return newCoreClient(arn, creds, httpClient, opts)
}

// UpdateModel records the model to request on the next invocation.
func (c *CoreClient) UpdateModel(m *catalog.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m != nil {
		c.modelID = m.ID
	}
}

// ReloadTools is a no-op: the hosted runtime owns its tool wiring.
func (c *CoreClient) ReloadTools(context.Context) error { return nil }

// History returns the turns observed by this client.
func (c *CoreClient) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.history...)
}

// Destroy drops the local history; the remote session expires on its
// own.
func (c *CoreClient) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// invokePayload is the request body the runtime expects. History and
// tool config ride along so a hosted agent behaves like a local one.
type invokePayload struct {
	Prompt       string        `json:"prompt"`
	Stream       bool          `json:"stream"`
	SystemPrompt string        `json:"system_prompt"`
	SessionID    string        `json:"session_id"`
	History      []historyTurn `json:"history,omitempty"`
	ToolConfig   *tools.Config `json:"tool_config,omitempty"`
	ModelID      string        `json:"model_id,omitempty"`
	Files        []string      `json:"files,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// runtimeEvent mirrors the SSE event shape the runtime emits.
type runtimeEvent struct {
	Text     string           `json:"text,omitempty"`
	Thinking string           `json:"thinking,omitempty"`
	ToolUse  *models.ToolUse  `json:"tool_use,omitempty"`
	Files    []models.FileRef `json:"files,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Status   string           `json:"status,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// Stream invokes the runtime and yields its events as chunks.
func (c *CoreClient) Stream(ctx context.Context, in *Input) (<-chan *models.Chunk, error) {
	c.mu.Lock()
	modelID := c.modelID
	prior := append([]models.Message(nil), c.history...)
	c.history = append(c.history, models.Message{Role: models.RoleUser, Content: in.Text, Files: in.Files})
	c.mu.Unlock()

	payload := invokePayload{
		Prompt:       in.Text,
		Stream:       true,
		SystemPrompt: c.system,
		SessionID:    c.sessionID,
		ToolConfig:   c.toolCfg,
		ModelID:      modelID,
	}
	for _, m := range prior {
		payload.History = append(payload.History, historyTurn{Role: string(m.Role), Content: m.Content})
	}
	for _, f := range in.Files {
		payload.Files = append(payload.Files, f.Path)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.arn.Endpoint(c.qualifier), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if err := c.sign(ctx, req, body); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.failStream(fmt.Errorf("invoke runtime: %w", err)), nil
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return c.failStream(fmt.Errorf("runtime http %d: %s", resp.StatusCode, strings.TrimSpace(buf.String()))), nil
	}

	out := make(chan *models.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		c.pump(resp.Body, out)
	}()
	return out, nil
}

// failStream delivers one error chunk and closes, keeping the Handle
// contract that failures arrive on the stream.
func (c *CoreClient) failStream(err error) <-chan *models.Chunk {
	c.logger.Error("runtime invocation failed", "error", err)
	observability.CountChunk("metadata")
	out := make(chan *models.Chunk, 1)
	out <- errorChunk(err)
	close(out)
	return out
}

// sign applies SigV4 with fresh credentials for each request.
func (c *CoreClient) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	return c.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]),
		agentCoreService, c.arn.Region, time.Now())
}

// pump parses the SSE body. Events are framed by blank lines; payload
// lines carry a "data: " prefix. A line that fails to parse as JSON is
// skipped with a warning.
func (c *CoreClient) pump(body io.Reader, out chan<- *models.Chunk) {
	var assistant strings.Builder
	var files []models.FileRef

	finish := func() {
		c.mu.Lock()
		if assistant.Len() > 0 {
			c.history = append(c.history, models.Message{
				Role: models.RoleAssistant, Content: assistant.String(), Files: files,
			})
		}
		c.mu.Unlock()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event runtimeEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Warn("skipping malformed runtime event", "error", err)
			continue
		}

		switch event.Status {
		case "complete":
			if event.Metadata != nil {
				observability.CountChunk("metadata")
				out <- &models.Chunk{Metadata: event.Metadata}
			}
			finish()
			return
		case "error":
			msg := event.Message
			if msg == "" {
				msg = "runtime reported an error"
			}
			out <- errorChunk(fmt.Errorf("%s", msg))
			finish()
			return
		}

		if event.Text != "" {
			assistant.WriteString(event.Text)
			observability.CountChunk("text")
			out <- &models.Chunk{Text: event.Text}
		}
		if event.Thinking != "" {
			observability.CountChunk("thinking")
			out <- &models.Chunk{Thinking: event.Thinking}
		}
		if event.ToolUse != nil {
			observability.CountChunk("tool_use")
			out <- &models.Chunk{ToolUse: event.ToolUse}
		}
		if len(event.Files) > 0 {
			files = append(files, event.Files...)
			observability.CountChunk("files")
			out <- &models.Chunk{Files: event.Files}
		}
		if event.Metadata != nil {
			observability.CountChunk("metadata")
			out <- &models.Chunk{Metadata: event.Metadata}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- errorChunk(fmt.Errorf("connection error: %w", err))
	}
	finish()
}
