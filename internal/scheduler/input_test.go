package scheduler

import (
	"errors"
	"testing"

	"github.com/babymaxMAX/autosub/internal/models"
)

func TestParseInputKnownSources(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		locator string
		want    models.InputKind
	}{
		{"upload", "upload", "file-ref-123", models.InputUpload},
		{"youtube", "url", "https://www.youtube.com/watch?v=abc", models.InputYouTube},
		{"youtubeShort", "url", "https://youtu.be/abc", models.InputYouTube},
		{"tiktok", "url", "https://www.tiktok.com/@u/video/1", models.InputTikTok},
		{"instagram", "url", "https://instagram.com/reel/xyz", models.InputInstagram},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input, err := ParseInput(tc.kind, tc.locator)
			if err != nil {
				t.Fatalf("parse input: %v", err)
			}
			if input.Kind != tc.want {
				t.Fatalf("kind: got %s want %s", input.Kind, tc.want)
			}
			if input.Locator != tc.locator {
				t.Fatalf("locator: got %s want %s", input.Locator, tc.locator)
			}
		})
	}
}

func TestParseInputRejectsUnknownSources(t *testing.T) {
	cases := []struct {
		name    string
		locator string
	}{
		{"unsupportedHost", "https://vimeo.com/12345"},
		{"notAURL", "not a url"},
		{"lookalike", "https://youtube.com.evil.example/watch"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInput("url", tc.locator)
			if !errors.Is(err, ErrUnsupportedSource) {
				t.Fatalf("expected ErrUnsupportedSource, got %v", err)
			}
		})
	}

	if _, err := ParseInput("upload", "   "); err == nil {
		t.Fatal("expected error for empty locator")
	}
}
