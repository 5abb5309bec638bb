package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gametext/sheetloc/config"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    colorRed + "░░░░" + colorReset + "   0%",
		},
		{
			name:    "mid range uses yellow",
			percent: 50,
			width:   4,
			want:    colorYellow + "██░░" + colorReset + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    colorGreen + "████" + colorReset + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestResolveProvider(t *testing.T) {
	cfg := &config.Config{Provider: "gemini", Model: "gemini-2.0-flash"}

	prov, err := resolveProvider(cfg, translateArgs{apiKey: "test-key", timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("resolveProvider: %v", err)
	}
	if prov.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q, want config override", prov.Model)
	}
	if prov.APIKey != "test-key" {
		t.Errorf("APIKey = %q", prov.APIKey)
	}
	if prov.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", prov.Timeout)
	}
}

func TestResolveProvider_MissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg := &config.Config{Provider: "gemini"}

	_, err := resolveProvider(cfg, translateArgs{})
	if err == nil {
		t.Fatal("want error for missing API key")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("error should name the env var: %v", err)
	}
}

func TestEffectiveCooldown(t *testing.T) {
	cfg := &config.Config{CooldownSeconds: 22}

	if got := effectiveCooldown(cfg, translateArgs{}); got != 22*time.Second {
		t.Errorf("config cooldown = %v, want 22s", got)
	}

	// A sub-second flag value must survive as-is, not truncate to zero.
	args := translateArgs{cooldown: 500 * time.Millisecond, cooldownSet: true}
	if got := effectiveCooldown(cfg, args); got != 500*time.Millisecond {
		t.Errorf("flag cooldown = %v, want 500ms", got)
	}

	// An explicit zero disables pacing.
	if got := effectiveCooldown(cfg, translateArgs{cooldownSet: true}); got != 0 {
		t.Errorf("zero flag cooldown = %v, want 0", got)
	}
}

func TestResolveProvider_Unknown(t *testing.T) {
	cfg := &config.Config{Provider: "claude"}
	if _, err := resolveProvider(cfg, translateArgs{}); err == nil {
		t.Fatal("want error for unknown provider")
	}
}
