// Package transport is the data-access layer behind the sidebar: it fetches
// item records and metadata editors and owns the cache those live in.
package transport

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/sidebar/pkg/cache"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/logging"
)

// Defaults applied by NewHTTPClient when the option is unset.
const (
	DefaultAPIHost    = "https://api.box.com"
	DefaultClientName = "ContentSidebar"
	DefaultTimeout    = 30 * time.Second
	DefaultRateLimit  = rate.Limit(10)
	DefaultBurst      = 20
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/odvcencio/sidebar/pkg/transport Client

// Client is the contract the sidebar orchestrator depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// GetFile fetches the item restricted to item.SidebarFields plus any
	// extra fields in opts.
	GetFile(ctx context.Context, fileID string, opts FetchOptions) (*item.Item, error)

	// GetMetadata fetches the metadata editors for a loaded item.
	GetMetadata(ctx context.Context, file *item.Item, opts MetadataOptions) ([]item.MetadataEditor, error)

	// Release drops the client. Cached entries are kept for other
	// consumers and later mounts.
	Release()

	// ReleaseAndPurge drops the client and purges its cache.
	ReleaseAndPurge()
}

// Factory builds a Client from options. The orchestrator calls it once
// per mount.
type Factory func(opts Options) (Client, error)

// FetchOptions tunes a single item fetch.
type FetchOptions struct {
	// ForceFetch drops any cached copy before fetching.
	ForceFetch bool `json:"force_fetch,omitempty"`
	// RefreshCache skips the cached copy and overwrites it with the
	// network result.
	RefreshCache bool `json:"refresh_cache,omitempty"`
	// Fields are requested in addition to item.SidebarFields.
	Fields []string `json:"fields,omitempty"`
}

// MetadataOptions tunes a metadata editor fetch.
type MetadataOptions struct {
	// FeatureEnabled is the caller's metadata feature flag. Editors
	// returned while it is off are read-only.
	FeatureEnabled bool
	ForceFetch     bool
}

// RequestInterceptor may inspect or mutate an outgoing request. A non-nil
// error aborts the request.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor sees every response before it is decoded. A non-nil
// error fails the call.
type ResponseInterceptor func(resp *http.Response) error

// Options configure a client. They are fixed for the client's lifetime.
type Options struct {
	APIHost            string
	ClientName         string
	Token              string
	SharedLink         string
	SharedLinkPassword string

	// Cache is shared when supplied; a private in-memory cache is used
	// otherwise.
	Cache cache.Cache

	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor

	Timeout   time.Duration
	RateLimit rate.Limit
	Burst     int
	Retry     *RetryConfig

	// Transport overrides the HTTP round tripper (tests, proxies).
	Transport http.RoundTripper

	Logger *logging.Logger
}
