package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swelljoe/wthr-offline/internal/cache"
	"github.com/swelljoe/wthr-offline/internal/fetch"
	"github.com/swelljoe/wthr-offline/internal/platform"
)

// origin is a fake upstream weather site
type origin struct {
	srv *httptest.Server

	mu         sync.Mutex
	hits       map[string]int
	missing    map[string]bool
	syncStatus int
	syncBodies []string
	syncTypes  []string
}

func newOrigin(t *testing.T) *origin {
	t.Helper()

	o := &origin{
		hits:       make(map[string]int),
		missing:    make(map[string]bool),
		syncStatus: http.StatusOK,
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	missing := o.missing[r.URL.Path]
	syncStatus := o.syncStatus
	o.mu.Unlock()

	switch {
	case r.URL.Path == DefaultSyncEndpoint:
		body, _ := io.ReadAll(r.Body)
		o.mu.Lock()
		o.syncBodies = append(o.syncBodies, string(body))
		o.syncTypes = append(o.syncTypes, r.Header.Get("Content-Type"))
		o.mu.Unlock()
		w.WriteHeader(syncStatus)
	case missing:
		http.NotFound(w, r)
	case r.URL.Path == "/account":
		user := r.Header.Get("X-User")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: user})
		w.Write([]byte("hello " + user))
	case r.URL.Path == "/dashboard":
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.Write([]byte("dashboard for " + r.Header.Get("X-User")))
	case r.URL.Path == "/old":
		http.Redirect(w, r, "/new", http.StatusFound)
	case r.URL.Path == "/" || strings.HasSuffix(r.URL.Path, ".html"):
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	default:
		w.Write([]byte("asset:" + r.URL.Path))
	}
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) setMissing(path string) {
	o.mu.Lock()
	o.missing[path] = true
	o.mu.Unlock()
}

type fakeClient struct {
	id  string
	url string

	mu       sync.Mutex
	messages []platform.Message
	focused  int
}

func (c *fakeClient) ID() string  { return c.id }
func (c *fakeClient) URL() string { return c.url }

func (c *fakeClient) PostMessage(ctx context.Context, msg platform.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeClient) Focus(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused++
	return nil
}

func (c *fakeClient) received() []platform.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]platform.Message(nil), c.messages...)
}

type fakeClients struct {
	mu       sync.Mutex
	clients  []*fakeClient
	opened   []string
	openers  []platform.Client
	claimed  []string
	claimErr error
}

func (f *fakeClients) MatchAll(ctx context.Context) ([]platform.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeClients) OpenWindow(ctx context.Context, url string, opener platform.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	f.openers = append(f.openers, opener)
	return nil
}

func (f *fakeClients) Claim(ctx context.Context, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, version)
	return f.claimErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []platform.Notification
	closed []string
	err    error
}

func (f *fakeNotifier) ShowNotification(ctx context.Context, n platform.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakeNotifier) CloseNotification(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, tag)
	return nil
}

type fakeSyncs struct {
	mu   sync.Mutex
	tags []string
}

func (f *fakeSyncs) Register(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return nil
}

// failingTransport simulates a network that cannot be reached
type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network unreachable")
}

type harness struct {
	origin   *origin
	network  *fetch.Client
	storage  *cache.Memory
	clients  *fakeClients
	notifier *fakeNotifier
	syncs    *fakeSyncs
	d        *Dispatcher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	o := newOrigin(t)
	network, err := fetch.NewClient(o.srv.URL, "test-agent", 5*time.Second)
	require.NoError(t, err)

	h := &harness{
		origin:   o,
		network:  network,
		storage:  cache.NewMemory(),
		clients:  &fakeClients{},
		notifier: &fakeNotifier{},
		syncs:    &fakeSyncs{},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	}

	h.d, err = New(Deps{
		Storage:  h.storage,
		Network:  network,
		Clients:  h.clients,
		Notifier: h.notifier,
		Syncs:    h.syncs,
	}, opts)
	require.NoError(t, err)
	return h
}

// newActiveHarness returns a harness whose dispatcher installed and activated
func newActiveHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, Options{})
	require.NoError(t, h.d.Install(context.Background()))
	require.Equal(t, StateActive, h.d.State())
	return h
}

func (h *harness) goOffline() {
	h.network.HTTPClient.Transport = failingTransport{}
}

func (h *harness) get(t *testing.T, path string, headers map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.network.Resolve(path), nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "redundant", StateRedundant.String())
	require.Equal(t, "state(42)", State(42).String())
}
