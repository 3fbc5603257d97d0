package ssrf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck_AllowsPublicHosts(t *testing.T) {
	allowed := []string{
		"https://example.com",
		"https://example.com/path?q=1",
		"http://api.example.com:8080/v1",
		"https://93.184.216.34/",
	}

	for _, u := range allowed {
		assert.NoError(t, Check(u), "url %s", u)
		assert.True(t, IsFetchAllowed(u), "url %s", u)
	}
}

func TestCheck_BlocksPrivateAndInternal(t *testing.T) {
	blocked := []string{
		"http://127.0.0.1/",
		"http://127.1.2.3/",
		"http://localhost/",
		"http://localhost:8080/admin",
		"http://10.0.0.5/",
		"http://192.168.1.1/router",
		"http://172.16.0.1/",
		"http://169.254.169.254/latest/meta-data",
		"https://svc.internal",
		"https://printer.local/",
	}

	for _, u := range blocked {
		err := Check(u)
		assert.Error(t, err, "url %s", u)
		assert.True(t, errors.Is(err, ErrBlocked), "url %s should wrap ErrBlocked", u)
		assert.False(t, IsFetchAllowed(u), "url %s", u)
	}
}

func TestCheck_BlocksNonHTTPSchemes(t *testing.T) {
	for _, u := range []string{
		"file:///etc/passwd",
		"ftp://example.com/file",
		"gopher://example.com",
		"not a url at all",
		"//missing-scheme.example.com",
	} {
		err := Check(u)
		assert.Error(t, err, "url %s", u)
		assert.True(t, errors.Is(err, ErrBlocked), "url %s", u)
	}
}

func TestCheck_HostMatchingIsCaseInsensitive(t *testing.T) {
	assert.Error(t, Check("http://LOCALHOST/"))
	assert.Error(t, Check("https://SVC.INTERNAL/"))
}
