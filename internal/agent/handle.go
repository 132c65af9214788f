// Package agent runs a conversation turn end to end: either a local
// reasoning loop over a provider adapter with tool execution, or a
// remote invocation of a hosted agent runtime. Both paths emit the
// same normalized chunk stream.
package agent

import (
	"context"
	"encoding/json"
	"regexp"

	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/pkg/models"
)

// Input is one user turn handed to an agent.
type Input struct {
	Text  string
	Files []models.FileRef
}

// Handle is a live agent bound to one session. Implementations are the
// local Provider and the remote CoreClient; callers switch between
// them without caring which they hold.
type Handle interface {
	// Stream runs one turn and yields normalized chunks. The channel
	// closes when the turn ends; failures arrive as a final chunk with
	// error metadata.
	Stream(ctx context.Context, in *Input) (<-chan *models.Chunk, error)

	// UpdateModel swaps the model without rebuilding the handle.
	UpdateModel(m *catalog.Model)

	// ReloadTools refreshes the tool set the agent sees.
	ReloadTools(ctx context.Context) error

	// History returns the accumulated conversation turns.
	History() []models.Message

	// Destroy releases the handle's resources.
	Destroy()
}

// apologyText is the canned reply surfaced when a turn fails outright.
const apologyText = "I apologize, but I encountered an error processing your request."

// errorChunk builds the terminal chunk for a failed turn.
func errorChunk(err error) *models.Chunk {
	return &models.Chunk{
		Text:     apologyText,
		Metadata: map[string]any{"error": err.Error()},
	}
}

// parseToolParams decodes a tool argument payload. Malformed JSON is
// preserved under an "input" key rather than dropped.
func parseToolParams(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]any{"input": raw}
	}
	return params
}

var filePathPattern = regexp.MustCompile(`(?:^|[\s"'=(])((?:/|\./)?(?:[\w.-]+/)*[\w-]+\.[A-Za-z0-9]{1,8})`)

// extractFiles pulls file paths out of a tool result and classifies
// them; tools report produced artifacts as plain paths in their text.
func extractFiles(result string) []models.FileRef {
	matches := filePathPattern.FindAllStringSubmatch(result, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []models.FileRef
	for _, m := range matches {
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true
		ref := models.ClassifyFile(path)
		if ref.Type == models.FileOther {
			continue
		}
		out = append(out, ref)
	}
	return out
}
