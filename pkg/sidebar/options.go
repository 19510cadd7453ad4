package sidebar

import (
	"github.com/odvcencio/sidebar/pkg/cache"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/telemetry"
	"github.com/odvcencio/sidebar/pkg/transport"
	"github.com/odvcencio/sidebar/pkg/visibility"
)

// DefaultLanguage is used when Options.Language is empty.
const DefaultLanguage = "en-US"

// Options configure a Sidebar. Everything except TargetID is fixed for
// the lifetime of the instance.
type Options struct {
	// TargetID is the item the sidebar starts on. It may be empty and set
	// later through SetTarget.
	TargetID string

	// Transport is handed unmodified to Factory on Mount.
	Transport transport.Options
	// Factory builds the transport client. Defaults to
	// transport.NewHTTPClient.
	Factory transport.Factory
	// Cache is shared with other sidebars when set. It overrides
	// Transport.Cache.
	Cache cache.Cache

	// Visibility carries the capability flags and additional tabs. Its
	// MetadataFeatureEnabled field is ignored in favour of the one below.
	Visibility visibility.Options
	// MetadataFeatureEnabled defaults to true, which skips the metadata
	// editor fetch.
	MetadataFeatureEnabled *bool

	// FetchOptions are merged into every item fetch. The sidebar field
	// allow-list is always requested on top of them.
	FetchOptions transport.FetchOptions

	Language    string
	Messages    map[string]string
	DefaultView string

	// Observers. All of them are optional and are never called with the
	// instance lock held.
	OnError               func(err error, code sberrors.ErrorCode)
	OnVersionChange       func(version *item.Version)
	OnVersionHistoryClick func(version *item.Version)
	OnChange              func(view View)

	Logger *logging.Logger
	Hub    *telemetry.Hub
}

// Bool returns a pointer to v, for Options.MetadataFeatureEnabled.
func Bool(v bool) *bool { return &v }

func (o Options) metadataFeatureEnabled() bool {
	if o.MetadataFeatureEnabled == nil {
		return true
	}
	return *o.MetadataFeatureEnabled
}

func (o Options) factory() transport.Factory {
	if o.Factory != nil {
		return o.Factory
	}
	return transport.NewHTTPClient
}

// mergeFetchOptions layers per-call options over the configured ones.
func mergeFetchOptions(base, extra transport.FetchOptions) transport.FetchOptions {
	fields := append(append([]string(nil), base.Fields...), extra.Fields...)
	return transport.FetchOptions{
		ForceFetch:   base.ForceFetch || extra.ForceFetch,
		RefreshCache: base.RefreshCache || extra.RefreshCache,
		Fields:       item.MergeFields(fields),
	}
}
