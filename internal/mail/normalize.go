package mail

import (
	"html"
	netmail "net/mail"
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

// ParseAddress splits a raw header value like "Name <user@host>" or a bare
// email into an Address. A missing display name falls back to the email.
func ParseAddress(raw string) Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}
	}

	if a, err := netmail.ParseAddress(raw); err == nil {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = a.Address
		}
		return Address{Name: name, Email: a.Address}
	}

	// Non-RFC input; split on angle brackets by hand
	if i := strings.Index(raw, "<"); i >= 0 {
		if j := strings.Index(raw[i:], ">"); j > 0 {
			email := strings.TrimSpace(raw[i+1 : i+j])
			name := strings.Trim(strings.TrimSpace(raw[:i]), `"`)
			if name == "" {
				name = email
			}
			return Address{Name: name, Email: email}
		}
	}

	return Address{Name: raw, Email: raw}
}

// ParseAddressList splits a comma-separated header value into addresses
func ParseAddressList(raw string) []Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if list, err := netmail.ParseAddressList(raw); err == nil {
		out := make([]Address, 0, len(list))
		for _, a := range list {
			name := strings.TrimSpace(a.Name)
			if name == "" {
				name = a.Address
			}
			out = append(out, Address{Name: name, Email: a.Address})
		}
		return out
	}

	parts := strings.Split(raw, ",")
	out := make([]Address, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, ParseAddress(p))
	}
	return out
}

// HTMLToText strips markup, script and style content from an HTML body and
// collapses all whitespace runs into single spaces.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	s = scriptRe.ReplaceAllString(s, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Snippet collapses text into a single line truncated to max runes
func Snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
