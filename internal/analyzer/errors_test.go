package analyzer

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		kind    string
	}{
		{"request blocked by Cloudflare challenge", KindBotProtection},
		{"received CAPTCHA page instead of content", KindBotProtection},
		{"HTTP 403 Forbidden", KindBotProtection},
		{"context deadline exceeded", KindTimeout},
		{"request timed out after 30s", KindTimeout},
		{"Rate limit exceeded, retry later", KindRateLimited},
		{"upstream returned 429", KindRateLimited},
		{"dial tcp: connection refused", KindNetworkError},
		{"lookup example.com: no such host", KindNetworkError},
		{"unexpected EOF reading response", KindNetworkError},
		{"something completely novel happened", KindUpstreamError},
		{"", KindUpstreamError},
	}

	for _, tt := range tests {
		got := Classify(errors.New(tt.message))
		if got.Kind != tt.kind {
			t.Errorf("Classify(%q).Kind = %s, want %s", tt.message, got.Kind, tt.kind)
		}
		if got.UserMessage == "" {
			t.Errorf("Classify(%q) has no user message", tt.message)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	got := Classify(errors.New("BLOCKED BY CLOUDFLARE"))
	if got.Kind != KindBotProtection {
		t.Errorf("expected bot_protection for uppercase input, got %s", got.Kind)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %+v, want nil", got)
	}
}

func TestClassifyPreservesExisting(t *testing.T) {
	orig := NewQueuedTimeoutError(30)
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	if got.Kind != KindQueuedTimeout {
		t.Errorf("expected existing classification preserved, got %s", got.Kind)
	}
	if got.Used != 30 {
		t.Errorf("expected poll count carried through, got %d", got.Used)
	}
}

func TestIsKind(t *testing.T) {
	err := NewValidationError("bad domain")
	if !IsKind(err, KindValidation) {
		t.Error("expected IsKind validation true")
	}
	if IsKind(err, KindTimeout) {
		t.Error("expected IsKind timeout false")
	}
	if IsKind(errors.New("plain"), KindUpstreamError) {
		t.Error("plain errors are not AuditErrors")
	}
}
