package agent

import (
	"errors"
	"testing"

	"github.com/aleck31/aibox/pkg/models"
)

var errTest = errors.New("boom")

func TestParseToolParams(t *testing.T) {
	got := parseToolParams(`{"city": "Tokyo", "days": 3}`)
	if got["city"] != "Tokyo" {
		t.Errorf("city = %v", got["city"])
	}

	if got := parseToolParams(""); len(got) != 0 {
		t.Errorf("empty input = %v", got)
	}

	// Malformed JSON is preserved, not dropped.
	got = parseToolParams(`{"city": "Tok`)
	if got["input"] != `{"city": "Tok` {
		t.Errorf("malformed input = %v", got)
	}
}

func TestExtractFiles(t *testing.T) {
	result := `Wrote the chart to ./output/chart.png and the raw numbers to data/results.csv.
Also rewrote data/results.csv with new columns. Temp file /tmp/scratch.bin was removed.`

	files := extractFiles(result)
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	if files[0].Path != "./output/chart.png" || files[0].Type != models.FileImage {
		t.Errorf("first = %+v", files[0])
	}
	if files[1].Path != "data/results.csv" || files[1].Type != models.FileData {
		t.Errorf("second = %+v", files[1])
	}
}

func TestExtractFilesNone(t *testing.T) {
	if files := extractFiles("The answer is 42. Nothing was written."); files != nil {
		t.Errorf("got %v, want nil", files)
	}
}

func TestErrorChunk(t *testing.T) {
	chunk := errorChunk(errTest)
	if chunk.Text != apologyText {
		t.Errorf("text = %q", chunk.Text)
	}
	if chunk.Metadata["error"] != errTest.Error() {
		t.Errorf("metadata = %v", chunk.Metadata)
	}
}
