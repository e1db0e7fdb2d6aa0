package guard

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallUninstallRestoresPolicy(t *testing.T) {
	sentinel := func(req *http.Request, via []*http.Request) error { return nil }
	client := &http.Client{CheckRedirect: sentinel}

	g := New(client, func(*http.Request) bool { return true })
	g.Install()
	assert.True(t, g.Installed())

	g.Uninstall()
	assert.False(t, g.Installed())
	// The original policy object must be back in place.
	assert.NotNil(t, client.CheckRedirect)
	assert.NoError(t, client.CheckRedirect(nil, nil))
}

func TestDeniedRedirectIsNotFollowed(t *testing.T) {
	var loginHits int
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
		case "/ui/login":
			loginHits++
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer provider.Close()

	providerURL, err := url.Parse(provider.URL)
	require.NoError(t, err)

	client := &http.Client{}
	release := Acquire(client, DenyHost(providerURL.Host))
	defer release()

	resp, err := client.Get(provider.URL + "/submit")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, loginHits, "redirect into provider UI must be cancelled")
}

func TestRedirectFollowedAfterRelease(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer provider.Close()

	providerURL, err := url.Parse(provider.URL)
	require.NoError(t, err)

	client := &http.Client{}
	release := Acquire(client, DenyHost(providerURL.Host))
	release()

	resp, err := client.Get(provider.URL + "/submit")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReleaseIsIdempotent(t *testing.T) {
	client := &http.Client{}
	release := Acquire(client, func(*http.Request) bool { return false })

	release()
	policyAfterFirst := client.CheckRedirect

	release()
	assert.True(t, policyAfterFirst == nil && client.CheckRedirect == nil)
}

func TestDenyHost(t *testing.T) {
	allow := DenyHost("provider.local")

	toProvider, _ := http.NewRequest(http.MethodGet, "http://provider.local/ui", nil)
	elsewhere, _ := http.NewRequest(http.MethodGet, "http://app.local/settings", nil)

	assert.False(t, allow(toProvider))
	assert.True(t, allow(elsewhere))
}
