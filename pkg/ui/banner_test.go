package ui

import (
	"fmt"
	"strings"
	"testing"
)

// TestBannerPreview prints the banner so `go test ./pkg/ui -run TestBannerPreview` shows it.
func TestBannerPreview(t *testing.T) {
	fmt.Println(Banner())
}

func TestBannerIncludesWordmark(t *testing.T) {
	banner := Banner()
	if !strings.Contains(banner, "hotspot") {
		t.Fatalf("banner missing hotspot wordmark: %q", banner)
	}
	if !strings.Contains(banner, Tagline) {
		t.Fatalf("banner missing tagline")
	}
	lines := strings.Split(strings.TrimSpace(banner), "\n")
	if len(lines) < 8 {
		t.Fatalf("expected multi-line banner, got %d lines", len(lines))
	}
}

func TestBannerHasOneColorPerLetter(t *testing.T) {
	if len(gradient) != len(hotspotLetters) {
		t.Fatalf("gradient has %d colors for %d letters", len(gradient), len(hotspotLetters))
	}
	for i, letter := range hotspotLetters {
		if len(letter) != len(hotspotLetters[0]) {
			t.Fatalf("letter %d has %d rows, want %d", i, len(letter), len(hotspotLetters[0]))
		}
	}
}
