package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/aleck31/aibox/internal/models"
	pkgmodels "github.com/aleck31/aibox/pkg/models"
)

// BedrockRuntimeAPI is the subset of the Bedrock runtime client the
// adapter uses. Narrowed for testability.
type BedrockRuntimeAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockAdapter routes completions through the AWS Bedrock Converse
// API.
type BedrockAdapter struct {
	client BedrockRuntimeAPI
	logger *slog.Logger
}

// NewBedrockAdapter builds the adapter from the default AWS config.
func NewBedrockAdapter(ctx context.Context, region string, logger *slog.Logger) (*BedrockAdapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// NewBedrockAdapterWithClient injects a client, used by tests.
func NewBedrockAdapterWithClient(client BedrockRuntimeAPI, logger *slog.Logger) *BedrockAdapter {
	return &BedrockAdapter{client: client, logger: logger}
}

func (a *BedrockAdapter) Name() models.APIProvider { return models.ProviderBedrock }

func (a *BedrockAdapter) Generate(ctx context.Context, req *Request) (string, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model.ID),
		Messages:        toBedrockMessages(req.Turns, req.Model.Has(models.CapVision)),
		System:          toBedrockSystem(req.System),
		InferenceConfig: toInferenceConfig(req),
	}
	out, err := a.client.Converse(ctx, in)
	if err != nil {
		return "", Classify("bedrock", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock: unexpected output type %T", out.Output)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String(), nil
}

func (a *BedrockAdapter) GenerateStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error) {
	in := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Model.ID),
		Messages:        toBedrockMessages(req.Turns, req.Model.Has(models.CapVision)),
		System:          toBedrockSystem(req.System),
		InferenceConfig: toInferenceConfig(req),
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = toBedrockTools(req.Tools)
	}

	out, err := a.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, Classify("bedrock", err)
	}

	chunks := make(chan *StreamChunk)
	go func() {
		defer close(chunks)
		a.pump(ctx, out, chunks)
	}()
	return chunks, nil
}

// pump drains the event stream, assembling tool-use blocks from their
// start/delta/stop events.
func (a *BedrockAdapter) pump(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- *StreamChunk) {
	stream := out.GetStream()
	defer stream.Close()

	var (
		calls   []ToolCall
		current *ToolCall
		args    strings.Builder
	)

	flushCall := func() {
		if current == nil {
			return
		}
		current.Arguments = args.String()
		if current.Arguments == "" {
			current.Arguments = "{}"
		}
		calls = append(calls, *current)
		current = nil
		args.Reset()
	}

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				flushCall()
				current = &ToolCall{
					ID:   aws.ToString(tu.Value.ToolUseId),
					Name: aws.ToString(tu.Value.Name),
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					chunks <- &StreamChunk{Text: delta.Value}
				}
			case *types.ContentBlockDeltaMemberReasoningContent:
				if rt, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok && rt.Value != "" {
					chunks <- &StreamChunk{Thinking: rt.Value}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if current != nil {
					args.WriteString(aws.ToString(delta.Value.Input))
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			flushCall()

		case *types.ConverseStreamOutputMemberMessageStop:
			final := &StreamChunk{StopReason: normalizeStopReason(ev.Value.StopReason)}
			if len(calls) > 0 {
				final.ToolCalls = calls
				calls = nil
			}
			chunks <- final

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				chunks <- &StreamChunk{Usage: &Usage{
					InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
				}}
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &StreamChunk{Err: Classify("bedrock", err)}
	}
}

func normalizeStopReason(r types.StopReason) string {
	switch r {
	case types.StopReasonToolUse:
		return StopToolUse
	case types.StopReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func toBedrockSystem(system string) []types.SystemContentBlock {
	if system == "" {
		return nil
	}
	return []types.SystemContentBlock{
		&types.SystemContentBlockMemberText{Value: system},
	}
}

func toInferenceConfig(req *Request) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	} else if req.Model.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.Model.MaxTokens))
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
	}
	return cfg
}

func toBedrockMessages(turns []Turn, vision bool) []types.Message {
	out := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case pkgmodels.RoleUser:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: userContentBlocks(t, vision),
			})
		case pkgmodels.RoleAssistant:
			content := []types.ContentBlock{}
			if t.Text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: t.Text})
			}
			for _, call := range t.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: content})
		case pkgmodels.RoleTool:
			content := make([]types.ContentBlock, 0, len(t.ToolResults))
			for _, res := range t.ToolResults {
				status := types.ToolResultStatusSuccess
				if res.IsError {
					status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(res.ID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: res.Content},
						},
					},
				})
			}
			// Tool results ride in a user-role message per the Converse API.
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: content})
		}
	}
	return out
}

func toBedrockTools(specs []ToolSpec) *types.ToolConfiguration {
	tools := make([]types.Tool, len(specs))
	for i, spec := range specs {
		var schema any
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: tools}
}

// imageAttachmentMaxBytes caps how much image data is inlined into a
// Converse message.
const imageAttachmentMaxBytes = 20 * 1024 * 1024

// userContentBlocks renders a user turn. Vision models get image
// attachments inlined as bytes; text-only models get a textual note of
// what was attached instead. Non-image files are always noted, never
// inlined.
func userContentBlocks(t Turn, vision bool) []types.ContentBlock {
	if !vision {
		return []types.ContentBlock{&types.ContentBlockMemberText{Value: withFileNotes(t)}}
	}
	var images, rest []pkgmodels.FileRef
	for _, f := range t.Files {
		if f.Type == pkgmodels.FileImage {
			images = append(images, f)
		} else {
			rest = append(rest, f)
		}
	}
	noted := t
	noted.Files = rest
	content := []types.ContentBlock{&types.ContentBlockMemberText{Value: withFileNotes(noted)}}
	for _, f := range images {
		block, err := imageBlockFromFile(f.Path)
		if err != nil {
			continue
		}
		content = append(content, block)
	}
	return content
}

func imageBlockFromFile(path string) (*types.ContentBlockMemberImage, error) {
	format, ok := imageFormatFromExt(strings.ToLower(filepath.Ext(path)))
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > imageAttachmentMaxBytes {
		return nil, fmt.Errorf("image too large (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, nil
}

func imageFormatFromExt(ext string) (types.ImageFormat, bool) {
	switch ext {
	case ".png":
		return types.ImageFormatPng, true
	case ".jpg", ".jpeg":
		return types.ImageFormatJpeg, true
	case ".gif":
		return types.ImageFormatGif, true
	case ".webp":
		return types.ImageFormatWebp, true
	}
	return "", false
}

// withFileNotes appends attachment descriptions to a user turn so text
// models see what files accompany the request.
func withFileNotes(t Turn) string {
	if len(t.Files) == 0 {
		return t.Text
	}
	var sb strings.Builder
	sb.WriteString(t.Text)
	sb.WriteString("\n\nAttached files:")
	for _, f := range t.Files {
		sb.WriteString("\n- ")
		sb.WriteString(f.Path)
		sb.WriteString(" (")
		sb.WriteString(string(f.Type))
		if f.Language != "" {
			sb.WriteString(", ")
			sb.WriteString(f.Language)
		}
		sb.WriteString(")")
	}
	return sb.String()
}
