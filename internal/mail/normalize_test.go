package mail

import (
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in    string
		name  string
		email string
	}{
		{`Ada Lovelace <ada@example.com>`, "Ada Lovelace", "ada@example.com"},
		{`"Grace Hopper" <grace@example.com>`, "Grace Hopper", "grace@example.com"},
		{`bare@example.com`, "bare@example.com", "bare@example.com"},
		{`  spaced@example.com  `, "spaced@example.com", "spaced@example.com"},
		{``, "", ""},
	}

	for _, c := range cases {
		got := ParseAddress(c.in)
		if got.Name != c.name || got.Email != c.email {
			t.Errorf("ParseAddress(%q) = %+v, want name=%q email=%q", c.in, got, c.name, c.email)
		}
	}
}

func TestParseAddressListSplitsAndFallsBack(t *testing.T) {
	got := ParseAddressList(`Ada <ada@example.com>, bob@example.com`)
	if len(got) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(got))
	}
	if got[0].Name != "Ada" || got[0].Email != "ada@example.com" {
		t.Errorf("first address = %+v", got[0])
	}
	if got[1].Name != "bob@example.com" || got[1].Email != "bob@example.com" {
		t.Errorf("second address should fall back to email as name, got %+v", got[1])
	}

	if out := ParseAddressList(""); out != nil {
		t.Errorf("empty input should return nil, got %v", out)
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p { color: red; }</style>
<script>alert("hi");</script></head>
<body><p>Meeting   at <b>3pm</b> tomorrow.</p>
<div>Bring &amp; share&nbsp;notes.</div></body></html>`

	got := HTMLToText(in)
	want := "Meeting at 3pm tomorrow. Bring & share notes."
	if got != want {
		t.Errorf("HTMLToText = %q, want %q", got, want)
	}

	if HTMLToText("") != "" {
		t.Errorf("empty input should stay empty")
	}
	if got := HTMLToText("plain text only"); got != "plain text only" {
		t.Errorf("plain text should pass through, got %q", got)
	}
}

func TestSnippetTruncates(t *testing.T) {
	if got := Snippet("short line", 200); got != "short line" {
		t.Errorf("short input should be untouched, got %q", got)
	}

	long := ""
	for range 50 {
		long += "word "
	}
	got := Snippet(long, 20)
	if len([]rune(got)) > 23 {
		t.Errorf("snippet too long: %q", got)
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
}

func TestFilterMatchesEverySetField(t *testing.T) {
	msg := EmailMessage{
		ID:      "m1",
		Subject: "Quarterly planning",
		From:    Address{Name: "Ada Lovelace", Email: "ada@example.com"},
		Date:    time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Body:    Body{Text: "let's meet tuesday"},
		IsRead:  false,
	}

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter matches", Filter{}, true},
		{"unread matches", Filter{IsRead: Bool(false)}, true},
		{"read excludes", Filter{IsRead: Bool(true)}, false},
		{"sender substring", Filter{Sender: "ada@"}, true},
		{"sender by name", Filter{Sender: "lovelace"}, true},
		{"wrong sender", Filter{Sender: "bob@"}, false},
		{"subject fold", Filter{Subject: "quarterly"}, true},
		{"query hits body", Filter{Query: "tuesday"}, true},
		{"query miss", Filter{Query: "friday"}, false},
		{"after before date", Filter{After: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)}, false},
		{"in range", Filter{
			After:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Before: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		}, true},
		{"starred unset ignores flag", Filter{IsStarred: nil}, true},
		{"starred set excludes", Filter{IsStarred: Bool(true)}, false},
	}

	for _, c := range cases {
		if got := c.f.Matches(msg); got != c.want {
			t.Errorf("%s: Matches = %v, want %v", c.name, got, c.want)
		}
	}
}
