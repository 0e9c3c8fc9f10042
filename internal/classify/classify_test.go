package classify

import (
	"errors"
	"testing"

	"yt-ingest/internal/model"
)

func TestClassify_RecognizedShapes(t *testing.T) {
	cases := []struct {
		name         string
		url          string
		kind         string
		canonicalID  string
		canonicalURL string
	}{
		{
			name:         "watch link",
			url:          "https://www.youtube.com/watch?v=abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "short link",
			url:          "https://youtu.be/abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "short link with timestamp",
			url:          "https://youtu.be/abc12345678?t=42",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "embed link",
			url:          "https://www.youtube.com/embed/abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "legacy v link",
			url:          "https://youtube.com/v/abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "watch with extraneous params",
			url:          "https://www.youtube.com/watch?v=abc12345678&feature=share&t=10",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "watch with video and list keeps the video",
			url:          "https://www.youtube.com/watch?v=abc12345678&list=PLxyz",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "watch with list only",
			url:          "https://www.youtube.com/watch?list=PL1234567890abcdef",
			kind:         model.KindPlaylist,
			canonicalID:  "PL1234567890abcdef",
			canonicalURL: "https://www.youtube.com/playlist?list=PL1234567890abcdef",
		},
		{
			name:         "playlist link",
			url:          "https://www.youtube.com/playlist?list=PL1234567890abcdef",
			kind:         model.KindPlaylist,
			canonicalID:  "PL1234567890abcdef",
			canonicalURL: "https://www.youtube.com/playlist?list=PL1234567890abcdef",
		},
		{
			name:         "channel id link",
			url:          "https://www.youtube.com/channel/UCabcdefghij1234567890xy",
			kind:         model.KindChannel,
			canonicalID:  "UCabcdefghij1234567890xy",
			canonicalURL: "https://www.youtube.com/channel/UCabcdefghij1234567890xy",
		},
		{
			name:         "legacy c link canonicalizes to handle",
			url:          "https://www.youtube.com/c/SomeCreator",
			kind:         model.KindChannel,
			canonicalID:  "SomeCreator",
			canonicalURL: "https://www.youtube.com/@SomeCreator",
		},
		{
			name:         "handle link",
			url:          "https://www.youtube.com/@some.creator",
			kind:         model.KindChannel,
			canonicalID:  "some.creator",
			canonicalURL: "https://www.youtube.com/@some.creator",
		},
		{
			name:         "user link",
			url:          "https://www.youtube.com/user/oldschool",
			kind:         model.KindUser,
			canonicalID:  "oldschool",
			canonicalURL: "https://www.youtube.com/user/oldschool",
		},
		{
			name:         "scheme-less input",
			url:          "www.youtube.com/watch?v=abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "protocol-relative input",
			url:          "//www.youtube.com/watch?v=abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
		{
			name:         "mobile host",
			url:          "https://m.youtube.com/watch?v=abc12345678",
			kind:         model.KindVideo,
			canonicalID:  "abc12345678",
			canonicalURL: "https://www.youtube.com/watch?v=abc12345678",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.url)
			if err != nil {
				t.Fatalf("Classify(%q) failed: %v", tc.url, err)
			}
			if got.Kind != tc.kind {
				t.Fatalf("kind: got %q, want %q", got.Kind, tc.kind)
			}
			if got.CanonicalID != tc.canonicalID {
				t.Fatalf("canonical id: got %q, want %q", got.CanonicalID, tc.canonicalID)
			}
			if got.CanonicalURL != tc.canonicalURL {
				t.Fatalf("canonical URL: got %q, want %q", got.CanonicalURL, tc.canonicalURL)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	variants := []string{
		"https://www.youtube.com/watch?v=abc12345678",
		"youtube.com/watch?v=abc12345678&feature=share",
		"https://youtu.be/abc12345678",
		"m.youtube.com/watch?v=abc12345678",
	}

	for _, v := range variants {
		got, err := Classify(v)
		if err != nil {
			t.Fatalf("Classify(%q) failed: %v", v, err)
		}
		if got.CanonicalURL != "https://www.youtube.com/watch?v=abc12345678" {
			t.Fatalf("variant %q canonicalized to %q", v, got.CanonicalURL)
		}
	}
}

func TestClassify_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"wrong host", "https://vimeo.com/12345"},
		{"bare host", "https://www.youtube.com/"},
		{"short video id", "https://www.youtube.com/watch?v=short"},
		{"watch without params", "https://www.youtube.com/watch"},
		{"playlist without list", "https://www.youtube.com/playlist"},
		{"unknown path", "https://www.youtube.com/trending"},
		{"lookalike host", "https://notyoutube.com/watch?v=abc12345678"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Classify(tc.url)
			if err == nil {
				t.Fatalf("expected Classify(%q) to fail", tc.url)
			}
			if !errors.Is(err, ErrInvalidURL) {
				t.Fatalf("expected ErrInvalidURL, got %v", err)
			}
		})
	}
}
