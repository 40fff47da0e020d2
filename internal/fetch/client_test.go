package fetch

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRoundTripper is a custom RoundTripper for testing
type mockRoundTripper struct {
	handler http.Handler
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	m.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		origin    string
		expectErr bool
		expected  string
	}{
		{"plain origin", "https://wthr.lol", false, "https://wthr.lol"},
		{"path is dropped", "http://localhost:9000/app/", false, "http://localhost:9000"},
		{"missing scheme", "wthr.lol", true, ""},
		{"garbage", "://", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.origin, "", time.Second)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.Origin.String())
			assert.NotEmpty(t, c.UserAgent)
			assert.Equal(t, time.Second, c.HTTPClient.Timeout)
		})
	}
}

func TestResolve(t *testing.T) {
	c, err := NewClient("https://wthr.lol", "", 0)
	require.NoError(t, err)

	assert.Equal(t, "https://wthr.lol/", c.Resolve("/"))
	assert.Equal(t, "https://wthr.lol/images/sunny.svg", c.Resolve("/images/sunny.svg"))
	assert.Equal(t, "https://wthr.lol/search?city=Austin", c.Resolve("/search?city=Austin"))
}

func TestDoSetsUserAgent(t *testing.T) {
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	})

	c := &Client{
		Origin:     &url.URL{Scheme: "https", Host: "wthr.lol"},
		UserAgent:  "test-agent",
		HTTPClient: &http.Client{Transport: &mockRoundTripper{handler: handler}},
	}

	req, err := http.NewRequest(http.MethodGet, "https://wthr.lol/", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "test-agent", got)
}

func TestTypeOf(t *testing.T) {
	c, err := NewClient("https://wthr.lol", "", 0)
	require.NoError(t, err)

	tests := []struct {
		name     string
		url      string
		expected ResponseType
	}{
		{"same origin", "https://wthr.lol/css/main.css", TypeBasic},
		{"explicit default port", "https://wthr.lol:443/", TypeBasic},
		{"other host", "https://cdn.example.com/x.js", TypeCORS},
		{"other scheme", "http://wthr.lol/", TypeCORS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.TypeOf(&http.Response{Request: req}))
		})
	}

	assert.Equal(t, TypeCORS, c.TypeOf(nil))
}

func TestRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		w.Write([]byte("new page"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "", time.Second)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, c.Resolve("/old"), nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode, "the page must see the redirect")
	assert.Equal(t, "/new", resp.Header.Get("Location"))

	following := c.Following()
	req, err = http.NewRequest(http.MethodGet, c.Resolve("/old"), nil)
	require.NoError(t, err)
	resp, err = following.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/new", resp.Request.URL.Path)
	assert.True(t, following.Basic(resp))

	assert.NotNil(t, c.HTTPClient.CheckRedirect, "Following must not change the original client")
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	c, err := NewClient(srv.URL, "", time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Probe(t.Context()), "any HTTP response means the origin is reachable")

	srv.Close()
	assert.Error(t, c.Probe(t.Context()))
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		headers  map[string]string
		expected bool
	}{
		{"document destination", "GET", map[string]string{"Sec-Fetch-Dest": "document"}, true},
		{"image destination", "GET", map[string]string{"Sec-Fetch-Dest": "image", "Accept": "text/html"}, false},
		{"navigate mode", "GET", map[string]string{"Sec-Fetch-Mode": "navigate"}, true},
		{"accept html fallback", "GET", map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"post with accept html", "POST", map[string]string{"Accept": "text/html"}, false},
		{"script", "GET", map[string]string{"Accept": "*/*"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, IsNavigation(req))
		})
	}
}
