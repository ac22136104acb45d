package engine

import (
	"testing"

	"github.com/webbridge/webbridge/internal/toolerr"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"http://example.com",
		"https://example.com/path?q=1",
		"https://localhost:8080",
		"about:blank",
	}
	for _, u := range valid {
		if err := validateURL(u); err != nil {
			t.Errorf("validateURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"",
		"example.com",
		"ftp://example.com/file",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"http://",
	}
	for _, u := range invalid {
		err := validateURL(u)
		if err == nil {
			t.Errorf("validateURL(%q) accepted", u)
			continue
		}
		if !toolerr.Is(err, toolerr.KindInvalidURL) {
			t.Errorf("validateURL(%q) kind = %s, want InvalidURL", u, toolerr.KindOf(err))
		}
	}
}

func TestFindExecutableCustomPathMissing(t *testing.T) {
	_, err := FindExecutable("/no/such/browser")
	if !toolerr.Is(err, toolerr.KindEngineLaunch) {
		t.Errorf("missing custom path error = %v, want EngineLaunchError", err)
	}
}
