// Package worker implements the offline cache manager for the weather page.
//
// A Dispatcher is built once at process start and receives every lifecycle,
// fetch, sync, push and message event through its methods. Its
// collaborators (cache storage, network client, page clients, notifier and
// sync registry) are injected so each can be replaced in tests.
package worker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/cache"
	"github.com/swelljoe/wthr-offline/internal/fetch"
	"github.com/swelljoe/wthr-offline/internal/metrics"
	"github.com/swelljoe/wthr-offline/internal/platform"
)

// CacheName is the live bucket for this build. Bump it on every deployment
// that changes the manifest.
const CacheName = "weather-tracker-v1"

const (
	// SyncTag is the deferred-sync tag that triggers a data sync
	SyncTag = "weather-data-sync"
	// PeriodicSyncTag is the periodic-sync tag that triggers a data sync
	PeriodicSyncTag = "weather-update"
	// DefaultSyncEndpoint is where sync requests are posted
	DefaultSyncEndpoint = "/api/weather/sync"
)

// Manifest is the app shell installed into the live bucket
var Manifest = []string{
	"/",
	"/index.html",
	"/css/main.css",
	"/js/main.js",
	"/images/sunny.svg",
	"/images/cloudy.svg",
	"/images/rainy.svg",
	"/images/snowy.svg",
	"/images/thunderstorm.svg",
	"/images/windy.svg",
}

// offlinePages are tried in order when a navigation cannot reach the network
var offlinePages = []string{"/", "/index.html"}

var (
	// ErrInstallFailed wraps every install error
	ErrInstallFailed = errors.New("worker: install failed")
	// ErrNotInstalled is returned when activating before a successful install
	ErrNotInstalled = errors.New("worker: not installed")
)

// State is the worker lifecycle state
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
	StateRedundant
)

var stateNames = []string{"parsed", "installing", "waiting", "activating", "active", "redundant"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Deps are the collaborators a Dispatcher is built from
type Deps struct {
	Storage  cache.Storage
	Network  *fetch.Client
	Clients  platform.Clients
	Notifier platform.Notifier
	Syncs    platform.SyncRegistry
}

// Options tune a Dispatcher. Zero values fall back to the defaults.
type Options struct {
	CacheName    string
	SyncEndpoint string
	// ManualSkipWaiting keeps a freshly installed worker in the waiting
	// state until a SKIP_WAITING message or an explicit Activate.
	ManualSkipWaiting bool
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Dispatcher receives every event for one origin
type Dispatcher struct {
	storage  cache.Storage
	network  *fetch.Client
	clients  platform.Clients
	notifier platform.Notifier
	syncs    platform.SyncRegistry
	syncHTTP *resty.Client

	cacheName    string
	syncEndpoint string
	autoSkip     bool
	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	mu            sync.Mutex
	state         State
	skipRequested bool

	// pending tracks detached work that must finish before shutdown
	pending sync.WaitGroup
}

// New creates a Dispatcher
func New(deps Deps, opts Options) (*Dispatcher, error) {
	if deps.Storage == nil || deps.Network == nil {
		return nil, errors.New("worker: storage and network are required")
	}
	if deps.Clients == nil || deps.Notifier == nil || deps.Syncs == nil {
		return nil, errors.New("worker: clients, notifier and sync registry are required")
	}

	d := &Dispatcher{
		storage:      deps.Storage,
		network:      deps.Network,
		clients:      deps.Clients,
		notifier:     deps.Notifier,
		syncs:        deps.Syncs,
		cacheName:    opts.CacheName,
		syncEndpoint: opts.SyncEndpoint,
		autoSkip:     !opts.ManualSkipWaiting,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if d.cacheName == "" {
		d.cacheName = CacheName
	}
	if d.syncEndpoint == "" {
		d.syncEndpoint = DefaultSyncEndpoint
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.log = d.log.With(zap.String("component", "worker"), zap.String("cache", d.cacheName))

	// Sync requests are sent once; a failed sync waits for the next trigger
	d.syncHTTP = resty.NewWithClient(&http.Client{
		Transport: deps.Network.HTTPClient.Transport,
		Timeout:   deps.Network.HTTPClient.Timeout,
	}).
		SetRetryCount(0).
		SetHeader("User-Agent", deps.Network.UserAgent)

	d.metrics.SetState(d.state.String(), stateNames)
	return d, nil
}

// CacheName returns the live bucket name
func (d *Dispatcher) CacheName() string {
	return d.cacheName
}

// State returns the current lifecycle state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()

	d.metrics.SetState(s.String(), stateNames)
	if prev != s {
		d.log.Info("Lifecycle state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Wait blocks until every detached cache write has finished
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}
