package models

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

type fakeBedrock struct {
	out   *bedrock.ListFoundationModelsOutput
	err   error
	calls int
}

func (f *fakeBedrock) ListFoundationModels(context.Context, *bedrock.ListFoundationModelsInput, ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	f.calls++
	return f.out, f.err
}

func summary(id, provider string, streaming bool, out ...types.ModelModality) types.FoundationModelSummary {
	return types.FoundationModelSummary{
		ModelId:                    aws.String(id),
		ModelName:                  aws.String(id),
		ProviderName:               aws.String(provider),
		ResponseStreamingSupported: aws.Bool(streaming),
		OutputModalities:           out,
	}
}

func TestDiscoveryRefresh(t *testing.T) {
	client := &fakeBedrock{out: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []types.FoundationModelSummary{
			summary("anthropic.claude-3-sonnet", "Anthropic", true, types.ModelModalityText),
			summary("amazon.titan-image-generator", "Amazon", false, types.ModelModalityImage),
			summary("meta.llama3-70b", "Meta", true, types.ModelModalityText),
		},
	}}
	d := NewDiscovery(DiscoveryConfig{Enabled: true, Region: "us-west-2"}, client, nil)
	reg := NewRegistry(nil, nil)

	if err := d.Refresh(context.Background(), reg); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Image-only models are not routable and stay out.
	if _, err := reg.Get("amazon.titan-image-generator"); err == nil {
		t.Error("image-only model should be filtered")
	}
	m, err := reg.Get("anthropic.claude-3-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if m.Provider != ProviderBedrock {
		t.Errorf("provider = %q", m.Provider)
	}
	if len(reg.List()) != 2 {
		t.Errorf("registry holds %d models, want 2", len(reg.List()))
	}

	// A second refresh inside the interval is a no-op.
	if err := d.Refresh(context.Background(), reg); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("client called %d times, want 1", client.calls)
	}
}

func TestDiscoveryProviderFilter(t *testing.T) {
	client := &fakeBedrock{out: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []types.FoundationModelSummary{
			summary("anthropic.claude-3-haiku", "Anthropic", true, types.ModelModalityText),
			summary("meta.llama3-8b", "Meta", true, types.ModelModalityText),
		},
	}}
	d := NewDiscovery(DiscoveryConfig{
		Enabled:        true,
		ProviderFilter: []string{"anthropic"},
	}, client, nil)
	reg := NewRegistry(nil, nil)

	if err := d.Refresh(context.Background(), reg); err != nil {
		t.Fatal(err)
	}
	if len(reg.List()) != 1 {
		t.Fatalf("registry holds %d models, want 1", len(reg.List()))
	}
	if _, err := reg.Get("meta.llama3-8b"); err == nil {
		t.Error("filtered vendor slipped through")
	}
}

func TestDiscoveryDisabled(t *testing.T) {
	client := &fakeBedrock{err: errors.New("should not be called")}
	d := NewDiscovery(DiscoveryConfig{Enabled: false}, client, nil)

	if err := d.Refresh(context.Background(), NewRegistry(nil, nil)); err != nil {
		t.Fatalf("disabled refresh should be a no-op, got %v", err)
	}
	if client.calls != 0 {
		t.Error("disabled discovery contacted the API")
	}
}

func TestDiscoveryError(t *testing.T) {
	client := &fakeBedrock{err: errors.New("throttled")}
	d := NewDiscovery(DiscoveryConfig{Enabled: true}, client, nil)

	if err := d.Refresh(context.Background(), NewRegistry(nil, nil)); err == nil {
		t.Error("expected error from failing client")
	}
}
