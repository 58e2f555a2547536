package models

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"text", Message{LocalID: "l", ConversationID: "c", Kind: KindText, Content: Content{Text: "hi"}}, true},
		{"system", Message{LocalID: "l", ConversationID: "c", Kind: KindSystem, Content: Content{Text: "joined"}}, true},
		{"image", Message{LocalID: "l", ConversationID: "c", Kind: KindImage, Content: Content{MediaURL: "http://x/a.png"}}, true},
		{"file", Message{LocalID: "l", ConversationID: "c", Kind: KindFile, Content: Content{MediaURL: "http://x/a.pdf"}}, true},
		{"empty text", Message{LocalID: "l", ConversationID: "c", Kind: KindText}, false},
		{"text with media", Message{LocalID: "l", ConversationID: "c", Kind: KindText, Content: Content{Text: "hi", MediaURL: "http://x"}}, false},
		{"image without url", Message{LocalID: "l", ConversationID: "c", Kind: KindImage, Content: Content{Text: "alt"}}, false},
		{"unknown kind", Message{LocalID: "l", ConversationID: "c", Kind: "sticker", Content: Content{Text: "x"}}, false},
		{"missing local id", Message{ConversationID: "c", Kind: KindText, Content: Content{Text: "hi"}}, false},
		{"missing conversation", Message{LocalID: "l", Kind: KindText, Content: Content{Text: "hi"}}, false},
	}
	for _, tc := range cases {
		err := tc.msg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, apperrors.ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
	}
}

func TestLessTiebreak(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Message{ID: "m1", CreatedAt: ts}
	b := &Message{ID: "m2", CreatedAt: ts}
	if !Less(a, b) || Less(b, a) {
		t.Fatalf("equal timestamps must break ties on id")
	}

	earlier := &Message{ID: "m9", CreatedAt: ts.Add(-time.Second)}
	if !Less(earlier, a) {
		t.Fatalf("earlier timestamp must order first regardless of id")
	}

	// provisional entries order by local id until the store assigns one
	p := &Message{LocalID: "aaa", CreatedAt: ts}
	if p.SortID() != "aaa" {
		t.Fatalf("SortID = %q, want local id", p.SortID())
	}
	p.ID = "m3"
	if p.SortID() != "m3" {
		t.Fatalf("SortID = %q, want canonical id", p.SortID())
	}
}

func TestPreview(t *testing.T) {
	long := &Message{Kind: KindText, Content: Content{Text: strings.Repeat("x", 200)}}
	if got := long.Preview(); len(got) != 80 {
		t.Fatalf("preview length = %d, want 80", len(got))
	}
	// truncation must not split a multi-byte rune; 80 is not a multiple of 3
	wide := &Message{Kind: KindText, Content: Content{Text: strings.Repeat("€", 100)}}
	got := wide.Preview()
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid utf-8: %q", got)
	}
	if len(got) != 78 {
		t.Fatalf("preview length = %d, want 78", len(got))
	}
	img := &Message{Kind: KindImage, Content: Content{MediaURL: "http://x/a.png", MediaName: "a.png"}}
	if got := img.Preview(); got != "[image] a.png" {
		t.Fatalf("image preview = %q", got)
	}
	file := &Message{Kind: KindFile, Content: Content{MediaURL: "http://x/a.pdf", MediaName: "a.pdf"}}
	if got := file.Preview(); got != "[file] a.pdf" {
		t.Fatalf("file preview = %q", got)
	}
}

func TestDirectKeyFor(t *testing.T) {
	if DirectKeyFor("bob", "alice") != DirectKeyFor("alice", "bob") {
		t.Fatalf("direct key must be order independent")
	}
	if DirectKeyFor("alice", "bob") != "alice|bob" {
		t.Fatalf("direct key = %q", DirectKeyFor("alice", "bob"))
	}
}
