package browser

import "testing"

func TestOpenRejectsEmptyURL(t *testing.T) {
	if err := (Opener{}).Open(""); err == nil {
		t.Error("expected an error for an empty url")
	}
}

func TestOpenRejectsNonHTTPScheme(t *testing.T) {
	cases := []string{
		"javascript:alert(1)",
		"file:///etc/passwd",
		"ftp://example.com",
		"not a url at all: \x7f",
	}
	for _, raw := range cases {
		if err := (Opener{}).Open(raw); err == nil {
			t.Errorf("expected Open(%q) to be rejected", raw)
		}
	}
}
