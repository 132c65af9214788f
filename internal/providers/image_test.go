package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type fakeInvoker struct {
	input  *bedrockruntime.InvokeModelInput
	output *bedrockruntime.InvokeModelOutput
	err    error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	return f.output, f.err
}

func TestImageClientGenerate(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	invoker := &fakeInvoker{output: &bedrockruntime.InvokeModelOutput{
		Body: []byte(`{"images":["` + payload + `"]}`),
	}}
	c := NewImageClientWithAPI(invoker, "amazon.titan-image-generator-v2:0")

	images, err := c.Generate(context.Background(), &ImageRequest{Prompt: "a lighthouse at dusk"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(images) != 1 || string(images[0]) != "fake-png-bytes" {
		t.Errorf("images = %v", images)
	}

	if *invoker.input.ModelId != "amazon.titan-image-generator-v2:0" {
		t.Errorf("model = %q", *invoker.input.ModelId)
	}
	var req titanImageRequest
	if err := json.Unmarshal(invoker.input.Body, &req); err != nil {
		t.Fatal(err)
	}
	if req.TaskType != "TEXT_IMAGE" || req.TextToImageParams.Text != "a lighthouse at dusk" {
		t.Errorf("request = %+v", req)
	}
	// Unset dimensions fall back to defaults.
	if req.ImageGenConfig.Width != 1024 || req.ImageGenConfig.NumberOfImages != 1 {
		t.Errorf("config = %+v", req.ImageGenConfig)
	}
}

func TestImageClientGenerateError(t *testing.T) {
	invoker := &fakeInvoker{output: &bedrockruntime.InvokeModelOutput{
		Body: []byte(`{"images":[],"error":"content policy violation"}`),
	}}
	c := NewImageClientWithAPI(invoker, "amazon.titan-image-generator-v2:0")

	if _, err := c.Generate(context.Background(), &ImageRequest{Prompt: "x"}); err == nil {
		t.Error("expected error from model-reported failure")
	}
}
