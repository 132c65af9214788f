package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ImageRequest describes a text-to-image generation.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Count          int
	Seed           int
}

// InvokeModelAPI is the Bedrock InvokeModel surface used for image
// generation.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// ImageClient generates images through Bedrock image models (Titan
// Image Generator, Nova Canvas) via InvokeModel.
type ImageClient struct {
	client  InvokeModelAPI
	modelID string
}

// NewImageClient builds the image client from the default AWS config.
func NewImageClient(ctx context.Context, region, modelID string) (*ImageClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ImageClient{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
	}, nil
}

// NewImageClientWithAPI injects a client, used by tests.
func NewImageClientWithAPI(client InvokeModelAPI, modelID string) *ImageClient {
	return &ImageClient{client: client, modelID: modelID}
}

type titanImageRequest struct {
	TaskType          string                `json:"taskType"`
	TextToImageParams titanTextToImage      `json:"textToImageParams"`
	ImageGenConfig    titanImageGenSettings `json:"imageGenerationConfig"`
}

type titanTextToImage struct {
	Text         string `json:"text"`
	NegativeText string `json:"negativeText,omitempty"`
}

type titanImageGenSettings struct {
	NumberOfImages int `json:"numberOfImages"`
	Width          int `json:"width"`
	Height         int `json:"height"`
	Seed           int `json:"seed,omitempty"`
}

type titanImageResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// Generate runs a text-to-image task and returns decoded PNG bytes,
// one slice per image.
func (c *ImageClient) Generate(ctx context.Context, req *ImageRequest) ([][]byte, error) {
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Width == 0 {
		req.Width = 1024
	}
	if req.Height == 0 {
		req.Height = 1024
	}

	body, err := json.Marshal(titanImageRequest{
		TaskType: "TEXT_IMAGE",
		TextToImageParams: titanTextToImage{
			Text:         req.Prompt,
			NegativeText: req.NegativePrompt,
		},
		ImageGenConfig: titanImageGenSettings{
			NumberOfImages: req.Count,
			Width:          req.Width,
			Height:         req.Height,
			Seed:           req.Seed,
		},
	})
	if err != nil {
		return nil, err
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, Classify("bedrock", err)
	}

	var resp titanImageResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("image generation failed: %s", resp.Error)
	}

	images := make([][]byte, 0, len(resp.Images))
	for _, enc := range resp.Images {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		images = append(images, raw)
	}
	return images, nil
}
