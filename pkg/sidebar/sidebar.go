// Package sidebar orchestrates the data behind a content sidebar: it owns
// the transport client for one mount, fetches the target item and, when
// the visibility policy asks for it, the item's metadata editors, and
// decides whether there is anything to render.
package sidebar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/telemetry"
	"github.com/odvcencio/sidebar/pkg/transport"
	"github.com/odvcencio/sidebar/pkg/visibility"
)

// Sidebar is one mounted sidebar instance. It is safe for concurrent use.
//
// Each fetch sequence runs in its own goroutine tagged with the generation
// it was started for. Results are applied only while that generation is
// current and the instance is still mounted; superseded requests are left
// to finish and their results dropped.
type Sidebar struct {
	id      string
	opts    Options
	vis     visibility.Options
	logger  *logging.Logger
	created time.Time

	mu         sync.Mutex
	ctx        context.Context
	client     transport.Client
	mounted    bool
	unmounted  bool
	released   bool
	targetID   string
	generation uint64
	phase      Phase
	loading    bool
	item       *item.Item
	editors    []item.MetadataEditor
	lastErr    error

	// pending counts running fetch sequences; idle is closed when it
	// drops to zero and replaced when work starts again.
	pending int
	idle    chan struct{}

	// emitMu orders OnChange deliveries: each snapshot is taken and
	// delivered before the next one is taken.
	emitMu sync.Mutex
}

var closedIdle = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New validates options and returns an unmounted sidebar.
func New(opts Options) (*Sidebar, error) {
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	if _, err := language.Parse(opts.Language); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeInvalidInput, "invalid language").
			WithContext("language", opts.Language)
	}
	vis := opts.Visibility
	vis.MetadataFeatureEnabled = opts.metadataFeatureEnabled()

	id := uuid.NewString()
	return &Sidebar{
		id:       id,
		opts:     opts,
		vis:      vis,
		logger:   opts.Logger,
		created:  time.Now(),
		targetID: opts.TargetID,
		phase:    PhaseIdle,
		loading:  true,
		idle:     closedIdle,
	}, nil
}

// ID returns the instance identifier stamped on logs and events.
func (s *Sidebar) ID() string { return s.id }

// Mount builds the transport client and starts fetching the current
// target. A sidebar mounts once.
func (s *Sidebar) Mount(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return sberrors.New(sberrors.ErrCodeAlreadyMounted, "sidebar is already mounted").
			WithContext("instance_id", s.id)
	}

	topts := s.opts.Transport
	if s.opts.Cache != nil {
		topts.Cache = s.opts.Cache
	}
	if topts.Logger == nil {
		topts.Logger = s.logger
	}
	client, err := s.opts.factory()(topts)
	if err != nil {
		s.mu.Unlock()
		return sberrors.Wrap(err, sberrors.ErrCodeInternal, "build transport client")
	}

	s.ctx = ctx
	s.client = client
	s.mounted = true
	target := s.targetID
	s.restartLocked(transport.FetchOptions{}, false)
	s.mu.Unlock()

	telemetry.RecordMounted(1)
	s.publish(telemetry.EventSidebarMounted, target, nil)
	_ = s.log(target).Info(logging.CategorySidebar, "sidebar.ready", "sidebar mounted", map[string]any{
		"mark":       "content_sidebar_ready_" + s.id,
		"elapsed_ms": time.Since(s.created).Milliseconds(),
	})
	s.emitChange()
	return nil
}

// SetTarget points the sidebar at a new item. Setting the current
// identifier again is a no-op. Before Mount it only records the target.
func (s *Sidebar) SetTarget(targetID string) error {
	s.mu.Lock()
	if err := s.usableLocked(false); err != nil {
		s.mu.Unlock()
		return err
	}
	if targetID == s.targetID {
		s.mu.Unlock()
		return nil
	}
	s.targetID = targetID
	if !s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.restartLocked(transport.FetchOptions{}, false)
	s.mu.Unlock()

	s.emitChange()
	return nil
}

// Refresh restarts the fetch sequence for the current target with extra
// fetch options, for example ForceFetch after an edit. The item already
// shown stays in place until the new fetch succeeds.
func (s *Sidebar) Refresh(opts transport.FetchOptions) error {
	s.mu.Lock()
	if err := s.usableLocked(true); err != nil {
		s.mu.Unlock()
		return err
	}
	s.restartLocked(opts, true)
	s.mu.Unlock()

	s.emitChange()
	return nil
}

// Unmount releases the transport client and keeps the cache. Results of
// fetches still in flight are discarded. Calling it again does nothing.
func (s *Sidebar) Unmount() {
	s.mu.Lock()
	if !s.mounted || s.unmounted {
		s.mu.Unlock()
		return
	}
	s.unmounted = true
	client, released := s.client, s.released
	s.released = true
	target := s.targetID
	s.mu.Unlock()

	if !released {
		client.Release()
	}
	telemetry.RecordMounted(-1)
	s.publish(telemetry.EventSidebarUnmounted, target, nil)
	_ = s.log(target).Info(logging.CategorySidebar, "sidebar.unmounted", "sidebar unmounted", nil)
}

// ClearCache releases the transport client and purges the cache behind
// it. The sidebar cannot fetch afterwards.
func (s *Sidebar) ClearCache() error {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return sberrors.New(sberrors.ErrCodeNotMounted, "sidebar is not mounted")
	}
	client := s.client
	s.released = true
	target := s.targetID
	s.mu.Unlock()

	client.ReleaseAndPurge()
	s.publish(telemetry.EventSidebarCacheCleared, target, nil)
	_ = s.log(target).Info(logging.CategoryCache, "cache.cleared", "sidebar cache cleared", nil)
	return nil
}

// NotifyVersionChange is called by the versions panel when the viewed
// version changes.
func (s *Sidebar) NotifyVersionChange(version *item.Version) {
	data := map[string]any{}
	if version != nil {
		data["version_id"] = version.ID
		data["version_number"] = version.VersionNumber
	}
	s.publish(telemetry.EventVersionChanged, s.Target(), data)
	if fn := s.opts.OnVersionChange; fn != nil {
		s.safeCall("on_version_change", func() { fn(version) })
	}
}

// NotifyVersionHistoryClick forwards a click on the version history entry.
func (s *Sidebar) NotifyVersionHistoryClick(version *item.Version) {
	if fn := s.opts.OnVersionHistoryClick; fn != nil {
		s.safeCall("on_version_history_click", func() { fn(version) })
	}
}

// Target returns the identifier the sidebar is currently pointed at.
func (s *Sidebar) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetID
}

// View returns a snapshot of the current state.
func (s *Sidebar) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Wait blocks until no fetch sequence is running. A sequence started
// while Wait blocks extends the wait.
func (s *Sidebar) Wait() {
	<-s.Settled()
}

// Settled returns a channel closed once no fetch sequence is running.
func (s *Sidebar) Settled() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// beginLocked records a new fetch sequence. Must hold s.mu.
func (s *Sidebar) beginLocked() {
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
}

func (s *Sidebar) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

func (s *Sidebar) usableLocked(requireMounted bool) error {
	switch {
	case s.unmounted:
		return sberrors.New(sberrors.ErrCodeNotMounted, "sidebar has been unmounted")
	case s.released:
		return sberrors.New(sberrors.ErrCodeClientReleased, "sidebar cache was cleared")
	case requireMounted && !s.mounted:
		return sberrors.New(sberrors.ErrCodeNotMounted, "sidebar is not mounted")
	}
	return nil
}

// restartLocked resets fetched state and, when the target is eligible,
// starts a new fetch sequence. keep leaves the current item and editors
// in place for a refresh of the same target. Must hold s.mu.
func (s *Sidebar) restartLocked(extra transport.FetchOptions, keep bool) {
	s.generation++
	s.loading = true
	if !keep {
		s.item = nil
		s.editors = nil
	}
	s.lastErr = nil
	s.phase = PhaseIdle

	if !visibility.EligibleToMount(s.targetID, s.vis) {
		return
	}

	s.phase = PhaseFetchingItem
	s.beginLocked()
	go s.run(s.ctx, s.client, s.generation, s.targetID, mergeFetchOptions(s.opts.FetchOptions, extra))
}

// currentLocked reports whether a result for gen may still be applied.
func (s *Sidebar) currentLocked(gen uint64) bool {
	return s.mounted && !s.unmounted && !s.released && gen == s.generation
}

func (s *Sidebar) run(ctx context.Context, client transport.Client, gen uint64, target string, opts transport.FetchOptions) {
	defer s.finish()
	defer func() {
		if r := recover(); r != nil {
			_ = s.log(target).Error(logging.CategorySidebar, "fetch.panic", "fetch sequence panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "sidebar.fetch",
		attribute.String("sidebar.instance", s.id),
		attribute.String("file.id", target),
	)
	defer span.End()

	it, ok := s.fetchItem(ctx, client, gen, target, opts)
	if !ok {
		return
	}
	s.fetchMetadata(ctx, client, gen, target, it)
}

func (s *Sidebar) fetchItem(ctx context.Context, client transport.Client, gen uint64, target string, opts transport.FetchOptions) (*item.Item, bool) {
	s.publish(telemetry.EventItemFetching, target, nil)
	start := time.Now()
	it, err := client.GetFile(ctx, target, opts)
	elapsed := time.Since(start)

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.discard(telemetry.FetchKindItem, target)
		return nil, false
	}
	s.loading = false
	if err != nil {
		s.phase = PhaseError
		s.lastErr = err
		s.mu.Unlock()

		telemetry.RecordFetch(telemetry.FetchKindItem, telemetry.OutcomeError, elapsed)
		s.reportError(target, err)
		s.emitChange()
		return nil, false
	}

	s.item = it
	s.editors = nil
	s.phase = PhaseItemReady
	fetchMeta := visibility.ShouldFetchMetadata(s.vis, it)
	if fetchMeta {
		s.phase = PhaseFetchingMetadata
	}
	s.mu.Unlock()

	telemetry.RecordFetch(telemetry.FetchKindItem, telemetry.OutcomeSuccess, elapsed)
	s.publish(telemetry.EventItemLoaded, target, map[string]any{"duration_ms": elapsed.Milliseconds()})
	s.emitChange()

	if !fetchMeta {
		s.publish(telemetry.EventMetadataSkipped, target, nil)
		return nil, false
	}
	return it, true
}

// Metadata is best effort: failures leave the editors unset and are only
// logged.
func (s *Sidebar) fetchMetadata(ctx context.Context, client transport.Client, gen uint64, target string, it *item.Item) {
	s.publish(telemetry.EventMetadataFetching, target, nil)
	start := time.Now()
	editors, err := client.GetMetadata(ctx, it, transport.MetadataOptions{
		FeatureEnabled: s.vis.MetadataFeatureEnabled,
	})
	elapsed := time.Since(start)

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.discard(telemetry.FetchKindMetadata, target)
		return
	}
	if err != nil {
		s.phase = PhaseItemReady
		s.mu.Unlock()

		cause := sberrors.GetCode(err)
		failure := sberrors.Wrap(err, sberrors.ErrCodeMetadataFetch, "fetch metadata").WithContext("target_id", target)
		telemetry.RecordFetch(telemetry.FetchKindMetadata, telemetry.OutcomeError, elapsed)
		s.publish(telemetry.EventMetadataFailed, target, map[string]any{
			"code":       string(failure.Code),
			"cause_code": string(cause),
		})
		_ = s.log(target).Debug(logging.CategoryMetadata, "metadata.failed", failure.Error(), map[string]any{
			"code":       string(failure.Code),
			"cause_code": string(cause),
		})
		s.emitChange()
		return
	}
	if editors == nil {
		editors = []item.MetadataEditor{}
	}
	s.editors = editors
	s.phase = PhaseMetadataReady
	s.mu.Unlock()

	telemetry.RecordFetch(telemetry.FetchKindMetadata, telemetry.OutcomeSuccess, elapsed)
	s.publish(telemetry.EventMetadataLoaded, target, map[string]any{"editors": len(editors)})
	s.emitChange()
}

func (s *Sidebar) discard(kind, target string) {
	telemetry.RecordDiscarded(kind)
	s.publish(telemetry.EventResultDiscarded, target, map[string]any{"kind": kind})
	_ = s.log(target).Debug(logging.CategorySidebar, "result.discarded", "stale fetch result dropped", map[string]any{
		"kind": kind,
	})
}

// errorCode is the code reported for an item fetch failure.
func errorCode(err error) sberrors.ErrorCode {
	if e, ok := sberrors.As(err); ok {
		return e.Code
	}
	return sberrors.ErrCodeItemFetch
}

func (s *Sidebar) reportError(target string, err error) {
	code := errorCode(err)
	if _, ok := sberrors.As(err); !ok {
		err = sberrors.Wrap(err, sberrors.ErrCodeItemFetch, "fetch item")
	}

	s.publish(telemetry.EventItemFailed, target, map[string]any{"code": string(code)})
	_ = s.log(target).Error(logging.CategorySidebar, "item.failed", err.Error(), map[string]any{
		"code": string(code),
	})
	if fn := s.opts.OnError; fn != nil {
		s.safeCall("on_error", func() { fn(err, code) })
	}
}

func (s *Sidebar) viewLocked() View {
	var code sberrors.ErrorCode
	if s.lastErr != nil {
		code = errorCode(s.lastErr)
	}
	panels := visibility.Panels(s.targetID, s.vis, s.item, s.editors)
	return View{
		InstanceID:   s.id,
		TargetID:     s.targetID,
		Phase:        s.phase,
		Loading:      s.loading,
		Item:         s.item,
		Editors:      s.editors,
		ShouldRender: len(panels) > 0,
		Panels:       panels,
		Language:     s.opts.Language,
		Messages:     s.opts.Messages,
		InitialPath:  initialPath(s.opts.DefaultView),
		Capabilities: s.vis,
		ErrorCode:    code,
		Err:          s.lastErr,
		Client:       s.client,
	}
}

// emitChange delivers the current view to OnChange. Deliveries never
// overlap and never go backwards, so OnChange must not call back into
// the sidebar's mutating methods synchronously.
func (s *Sidebar) emitChange() {
	fn := s.opts.OnChange
	if fn == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	view := s.View()
	s.safeCall("on_change", func() { fn(view) })
}

// safeCall keeps a misbehaving observer from taking down a fetch goroutine.
func (s *Sidebar) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			_ = s.log(s.Target()).Error(logging.CategorySidebar, "observer.panic", "observer panicked", map[string]any{
				"observer": name,
				"panic":    fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func (s *Sidebar) publish(eventType telemetry.EventType, target string, data map[string]any) {
	s.opts.Hub.Publish(telemetry.Event{
		Type:       eventType,
		Timestamp:  time.Now(),
		InstanceID: s.id,
		TargetID:   target,
		Data:       data,
	})
}

func (s *Sidebar) log(target string) *logging.Logger {
	return s.logger.ForInstance(s.id, target)
}
