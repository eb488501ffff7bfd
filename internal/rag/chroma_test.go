package rag

import (
	"context"
	"testing"
)

func TestDistanceScore(t *testing.T) {
	if got := distanceScore(0); got != 1 {
		t.Errorf("distanceScore(0) = %v, want 1", got)
	}
	if distanceScore(0.2) <= distanceScore(0.9) {
		t.Error("closer results must score higher")
	}
	if got := distanceScore(-0.1); got != 1 {
		t.Errorf("distanceScore(negative) = %v, want 1", got)
	}
}

func TestOpenChromaIndex_RequiresSettings(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenChromaIndex(ctx, ChromaConfig{URL: "http://localhost:8000", EmbeddingAPIKey: "k"}); err == nil {
		t.Error("missing collection should fail")
	}
	if _, err := OpenChromaIndex(ctx, ChromaConfig{URL: "http://localhost:8000", Collection: "manual_it"}); err == nil {
		t.Error("missing embedding key should fail")
	}
}
