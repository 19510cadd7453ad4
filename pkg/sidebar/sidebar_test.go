package sidebar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/sidebar/pkg/cache"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/telemetry"
	"github.com/odvcencio/sidebar/pkg/transport"
	"github.com/odvcencio/sidebar/pkg/transport/mocks"
	"github.com/odvcencio/sidebar/pkg/visibility"
)

func factoryFor(c transport.Client) transport.Factory {
	return func(transport.Options) (transport.Client, error) { return c, nil }
}

func mountWith(t *testing.T, client transport.Client, opts Options) *Sidebar {
	t.Helper()
	opts.Factory = factoryFor(client)
	s, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))
	return s
}

// gatedClient blocks GetFile for ids that have a gate until it is closed.
type gatedClient struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	items     map[string]*item.Item
	fileCalls []string
	released  int
	purged    int
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		gates: make(map[string]chan struct{}),
		items: make(map[string]*item.Item),
	}
}

func (g *gatedClient) gate(id string) chan struct{} {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gates[id] = ch
	g.mu.Unlock()
	return ch
}

func (g *gatedClient) GetFile(ctx context.Context, id string, _ transport.FetchOptions) (*item.Item, error) {
	g.mu.Lock()
	g.fileCalls = append(g.fileCalls, id)
	gate := g.gates[id]
	it, ok := g.items[id]
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, sberrors.New(sberrors.ErrCodeNotFound, "no such file")
	}
	return it, nil
}

func (g *gatedClient) GetMetadata(context.Context, *item.Item, transport.MetadataOptions) ([]item.MetadataEditor, error) {
	return nil, nil
}

func (g *gatedClient) Release() {
	g.mu.Lock()
	g.released++
	g.mu.Unlock()
}

func (g *gatedClient) ReleaseAndPurge() {
	g.mu.Lock()
	g.purged++
	g.mu.Unlock()
}

// viewRecorder collects every view passed to OnChange.
type viewRecorder struct {
	mu    sync.Mutex
	views []View
}

func (r *viewRecorder) record(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *viewRecorder) snapshot() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

func TestScenario_SkillsItemRenders(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f1", gomock.Any()).
		Return(&item.Item{ID: "f1", HasSkillData: true}, nil)
	client.EXPECT().GetMetadata(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	s := mountWith(t, client, Options{
		TargetID:   "f1",
		Visibility: visibility.Options{HasSkills: true},
	})
	s.Wait()

	view := s.View()
	assert.True(t, view.ShouldRender)
	assert.False(t, view.Loading)
	assert.Equal(t, PhaseItemReady, view.Phase)
	assert.Equal(t, []visibility.Panel{visibility.PanelSkills}, view.Panels)
	assert.Equal(t, "f1", view.Item.ID)
	assert.Same(t, client, view.Client)
}

func TestScenario_NoCapabilitiesNeverRenders(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f2", gomock.Any()).
		Return(&item.Item{ID: "f2"}, nil).AnyTimes()
	client.EXPECT().GetMetadata(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	s := mountWith(t, client, Options{
		TargetID:               "f2",
		MetadataFeatureEnabled: Bool(true),
	})
	s.Wait()

	view := s.View()
	assert.False(t, view.ShouldRender)
	assert.Empty(t, view.Panels)
	assert.Equal(t, PhaseIdle, view.Phase)
}

func TestScenario_MetadataEditorsRender(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	loaded := &item.Item{ID: "f3", MayHaveMetadataHint: true}
	client.EXPECT().GetFile(gomock.Any(), "f3", gomock.Any()).Return(loaded, nil)
	client.EXPECT().GetMetadata(gomock.Any(), loaded, transport.MetadataOptions{FeatureEnabled: false}).
		Return([]item.MetadataEditor{{InstanceID: "E1", TemplateKey: "contract"}}, nil)

	s := mountWith(t, client, Options{
		TargetID:               "f3",
		MetadataFeatureEnabled: Bool(false),
	})
	s.Wait()

	view := s.View()
	assert.True(t, view.ShouldRender)
	assert.Equal(t, PhaseMetadataReady, view.Phase)
	assert.Equal(t, []visibility.Panel{visibility.PanelMetadata}, view.Panels)
	require.Len(t, view.Editors, 1)
	assert.Equal(t, "E1", view.Editors[0].InstanceID)
}

func TestMetadataFetchConditions(t *testing.T) {
	tests := []struct {
		name            string
		featureEnabled  *bool
		mayHaveMetadata bool
		itemErr         error
		wantFetch       bool
	}{
		{"default feature flag skips", nil, true, nil, false},
		{"feature enabled skips", Bool(true), true, nil, false},
		{"feature disabled without hint skips", Bool(false), false, nil, false},
		{"feature disabled with hint fetches", Bool(false), true, nil, true},
		{"item failure skips", Bool(false), true, sberrors.New(sberrors.ErrCodeTransport, "boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			var loaded *item.Item
			if tt.itemErr == nil {
				loaded = &item.Item{ID: "f", MayHaveMetadataHint: tt.mayHaveMetadata}
			}
			client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).Return(loaded, tt.itemErr)
			calls := 0
			if tt.wantFetch {
				calls = 1
			}
			client.EXPECT().GetMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
				Return([]item.MetadataEditor{}, nil).Times(calls)

			s := mountWith(t, client, Options{
				TargetID:               "f",
				MetadataFeatureEnabled: tt.featureEnabled,
				Visibility:             visibility.Options{HasActivityFeed: true},
			})
			s.Wait()
		})
	}
}

func TestItemSetWithoutContentDoesNotRender(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).Return(&item.Item{ID: "f"}, nil)

	s := mountWith(t, client, Options{
		TargetID:   "f",
		Visibility: visibility.Options{HasSkills: true},
	})
	s.Wait()

	view := s.View()
	require.NotNil(t, view.Item)
	assert.False(t, view.ShouldRender)
	assert.Nil(t, view.Editors)
}

func TestItemFetchFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode sberrors.ErrorCode
	}{
		{"structured", sberrors.New(sberrors.ErrCodeNotFound, "gone").WithStatus(404), sberrors.ErrCodeNotFound},
		{"plain", errors.New("socket closed"), sberrors.ErrCodeItemFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).Return(nil, tt.err)

			var mu sync.Mutex
			var codes []sberrors.ErrorCode
			var reported []error
			s := mountWith(t, client, Options{
				TargetID:   "f",
				Visibility: visibility.Options{HasActivityFeed: true},
				OnError: func(err error, code sberrors.ErrorCode) {
					mu.Lock()
					defer mu.Unlock()
					codes = append(codes, code)
					reported = append(reported, err)
				},
			})
			s.Wait()

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, codes, 1, "error reported exactly once")
			assert.Equal(t, tt.wantCode, codes[0])
			assert.Equal(t, tt.wantCode, sberrors.GetCode(reported[0]))

			view := s.View()
			assert.Equal(t, PhaseError, view.Phase)
			assert.False(t, view.Loading)
			assert.Nil(t, view.Item)
			assert.False(t, view.ShouldRender)
			assert.Equal(t, tt.wantCode, view.ErrorCode)
		})
	}
}

func TestMetadataFailureIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).
		Return(&item.Item{ID: "f", MayHaveMetadataHint: true}, nil)
	client.EXPECT().GetMetadata(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, sberrors.New(sberrors.ErrCodeTransport, "metadata down"))

	hub := telemetry.NewHub()
	defer hub.Close()
	failures, unsubscribe := hub.Subscribe(telemetry.EventMetadataFailed)
	defer unsubscribe()

	errorCalls := 0
	s := mountWith(t, client, Options{
		TargetID:               "f",
		MetadataFeatureEnabled: Bool(false),
		Hub:                    hub,
		Visibility:             visibility.Options{HasActivityFeed: true},
		OnError:                func(error, sberrors.ErrorCode) { errorCalls++ },
	})
	s.Wait()

	view := s.View()
	assert.Zero(t, errorCalls)
	assert.Equal(t, PhaseItemReady, view.Phase)
	assert.Nil(t, view.Editors)
	assert.NotNil(t, view.Item)
	assert.True(t, view.ShouldRender)
	assert.Equal(t, []visibility.Panel{visibility.PanelActivity}, view.Panels)

	select {
	case ev := <-failures:
		assert.Equal(t, string(sberrors.ErrCodeMetadataFetch), ev.Data["code"])
		assert.Equal(t, string(sberrors.ErrCodeTransport), ev.Data["cause_code"])
	default:
		t.Fatal("metadata failure was not published")
	}
}

func TestLateResultForSupersededTargetIsDiscarded(t *testing.T) {
	client := newGatedClient()
	client.items["A"] = &item.Item{ID: "A"}
	client.items["B"] = &item.Item{ID: "B"}
	releaseA := client.gate("A")

	rec := &viewRecorder{}
	s := mountWith(t, client, Options{
		TargetID:   "A",
		Visibility: visibility.Options{HasActivityFeed: true},
		OnChange:   rec.record,
	})

	require.NoError(t, s.SetTarget("B"))
	require.Eventually(t, func() bool {
		v := s.View()
		return v.Item != nil && v.Item.ID == "B"
	}, time.Second, 5*time.Millisecond)

	close(releaseA)
	s.Wait()

	view := s.View()
	assert.Equal(t, "B", view.TargetID)
	assert.Equal(t, "B", view.Item.ID)
	assert.False(t, view.Loading)
	for _, v := range rec.snapshot() {
		if v.Item != nil {
			assert.NotEqual(t, "A", v.Item.ID, "stale result leaked into a view")
		}
	}
}

func TestSetTargetRestartsAndClearsStaleState(t *testing.T) {
	client := newGatedClient()
	client.items["A"] = &item.Item{ID: "A"}
	client.items["B"] = &item.Item{ID: "B"}

	s := mountWith(t, client, Options{
		TargetID:   "A",
		Visibility: visibility.Options{HasActivityFeed: true},
	})
	s.Wait()
	require.Equal(t, "A", s.View().Item.ID)

	releaseB := client.gate("B")
	require.NoError(t, s.SetTarget("B"))
	view := s.View()
	assert.True(t, view.Loading)
	assert.Nil(t, view.Item)
	assert.Equal(t, PhaseFetchingItem, view.Phase)

	close(releaseB)
	s.Wait()
	assert.Equal(t, "B", s.View().Item.ID)

	// Same id again is a no-op.
	require.NoError(t, s.SetTarget("B"))
	s.Wait()
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"A", "B"}, client.fileCalls)
}

func TestUnmountDuringInflightFetch(t *testing.T) {
	client := newGatedClient()
	client.items["f"] = &item.Item{ID: "f"}
	release := client.gate("f")

	rec := &viewRecorder{}
	errorCalls := 0
	s := mountWith(t, client, Options{
		TargetID:   "f",
		Visibility: visibility.Options{HasActivityFeed: true},
		OnChange:   rec.record,
		OnError:    func(error, sberrors.ErrorCode) { errorCalls++ },
	})
	before := s.View()
	seen := len(rec.snapshot())

	assert.NotPanics(t, s.Unmount)
	assert.NotPanics(t, s.Unmount)
	close(release)
	s.Wait()

	after := s.View()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.Loading, after.Loading)
	assert.Nil(t, after.Item)
	assert.Len(t, rec.snapshot(), seen, "no change published after unmount")
	assert.Zero(t, errorCalls)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.released)
	assert.Zero(t, client.purged)

	err := s.SetTarget("other")
	assert.True(t, sberrors.IsCode(err, sberrors.ErrCodeNotMounted))
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"f1","name":"a.txt"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUnmountKeepsCacheAndClearCachePurges(t *testing.T) {
	srv := newFileServer(t)
	shared := cache.NewMemory()
	opts := Options{
		TargetID:   "f1",
		Transport:  transport.Options{APIHost: srv.URL},
		Cache:      shared,
		Visibility: visibility.Options{HasActivityFeed: true},
	}

	first, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, first.Mount(context.Background()))
	first.Wait()
	require.NotNil(t, first.View().Item)
	require.True(t, shared.Has(transport.FileCacheKey("f1")))

	first.Unmount()
	assert.True(t, shared.Has(transport.FileCacheKey("f1")), "unmount keeps cached entries")

	second, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, second.Mount(context.Background()))
	second.Wait()

	require.NoError(t, second.ClearCache())
	assert.False(t, shared.Has(transport.FileCacheKey("f1")), "clear cache purges entries")

	err = second.Refresh(transport.FetchOptions{})
	assert.True(t, sberrors.IsCode(err, sberrors.ErrCodeClientReleased))
	second.Unmount()
}

func TestClearCacheUsesPurgingRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().ReleaseAndPurge().Times(1)
	client.EXPECT().Release().Times(0)

	s := mountWith(t, client, Options{})
	require.NoError(t, s.ClearCache())
	s.Unmount()
}

func TestMountTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	s := mountWith(t, client, Options{})
	err := s.Mount(context.Background())
	assert.True(t, sberrors.IsCode(err, sberrors.ErrCodeAlreadyMounted))
}

func TestMountFactoryError(t *testing.T) {
	s, err := New(Options{
		TargetID: "f",
		Factory: func(transport.Options) (transport.Client, error) {
			return nil, errors.New("no credentials")
		},
	})
	require.NoError(t, err)
	err = s.Mount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")

	assert.True(t, sberrors.IsCode(s.ClearCache(), sberrors.ErrCodeNotMounted))
	assert.True(t, sberrors.IsCode(s.Refresh(transport.FetchOptions{}), sberrors.ErrCodeNotMounted))
}

func TestMountPassesTransportOptions(t *testing.T) {
	shared := cache.NewMemory()
	var got transport.Options
	s, err := New(Options{
		Transport: transport.Options{APIHost: "https://example.test", Token: "t"},
		Cache:     shared,
		Factory: func(opts transport.Options) (transport.Client, error) {
			got = opts
			return newGatedClient(), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background()))

	assert.Equal(t, "https://example.test", got.APIHost)
	assert.Equal(t, "t", got.Token)
	assert.Same(t, shared, got.Cache)
}

func TestNotEligibleStaysIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	s := mountWith(t, client, Options{
		Visibility: visibility.Options{HasActivityFeed: true},
	})
	s.Wait()

	view := s.View()
	assert.Equal(t, PhaseIdle, view.Phase)
	assert.True(t, view.Loading)
	assert.False(t, view.ShouldRender)
}

func TestFetchAlwaysRequestsSidebarFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	var mu sync.Mutex
	var seen []transport.FetchOptions
	client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts transport.FetchOptions) (*item.Item, error) {
			mu.Lock()
			seen = append(seen, opts)
			mu.Unlock()
			return &item.Item{ID: "f"}, nil
		}).Times(2)

	s := mountWith(t, client, Options{
		TargetID:     "f",
		Visibility:   visibility.Options{HasActivityFeed: true},
		FetchOptions: transport.FetchOptions{Fields: []string{"tags"}},
	})
	s.Wait()
	require.NoError(t, s.Refresh(transport.FetchOptions{ForceFetch: true}))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, item.MergeFields([]string{"tags"}), seen[0].Fields)
	assert.False(t, seen[0].ForceFetch)
	assert.Equal(t, item.MergeFields([]string{"tags"}), seen[1].Fields)
	assert.True(t, seen[1].ForceFetch)
}

func TestObserverPanicIsRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).Return(&item.Item{ID: "f"}, nil)

	s, err := New(Options{
		TargetID:   "f",
		Factory:    factoryFor(client),
		Visibility: visibility.Options{HasActivityFeed: true},
		OnChange:   func(View) { panic("observer bug") },
	})
	require.NoError(t, err)
	assert.NotPanics(t, func() { require.NoError(t, s.Mount(context.Background())) })
	s.Wait()
	assert.NotNil(t, s.View().Item)
}

func TestVersionNotifications(t *testing.T) {
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	var changed, clicked *item.Version
	s, err := New(Options{
		TargetID:              "f",
		Hub:                   hub,
		OnVersionChange:       func(v *item.Version) { changed = v },
		OnVersionHistoryClick: func(v *item.Version) { clicked = v },
	})
	require.NoError(t, err)

	v := &item.Version{ID: "v2", VersionNumber: "2"}
	s.NotifyVersionChange(v)
	s.NotifyVersionHistoryClick(v)
	assert.Same(t, v, changed)
	assert.Same(t, v, clicked)

	select {
	case ev := <-events:
		assert.Equal(t, telemetry.EventVersionChanged, ev.Type)
		assert.Equal(t, "v2", ev.Data["version_id"])
		assert.Equal(t, s.ID(), ev.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("expected version event")
	}
}

func TestLifecycleEvents(t *testing.T) {
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().GetFile(gomock.Any(), "f1", gomock.Any()).
		Return(&item.Item{ID: "f1", HasSkillData: true}, nil)
	client.EXPECT().Release()

	s := mountWith(t, client, Options{
		TargetID:   "f1",
		Hub:        hub,
		Visibility: visibility.Options{HasSkills: true},
	})
	s.Wait()
	s.Unmount()

	var types []telemetry.EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, telemetry.EventSidebarMounted)
	assert.Contains(t, types, telemetry.EventItemFetching)
	assert.Contains(t, types, telemetry.EventItemLoaded)
	assert.Contains(t, types, telemetry.EventMetadataSkipped)
	assert.Contains(t, types, telemetry.EventSidebarUnmounted)
}

func TestNewRejectsBadLanguage(t *testing.T) {
	_, err := New(Options{Language: "not a language!"})
	assert.True(t, sberrors.IsCode(err, sberrors.ErrCodeInvalidInput))
}

func TestViewPassThrough(t *testing.T) {
	s, err := New(Options{
		TargetID:    "f",
		DefaultView: "activity",
		Messages:    map[string]string{"title": "Sidebar"},
		Visibility: visibility.Options{
			HasAdditionalTabs: true,
			AdditionalTabs:    []item.AdditionalTab{{ID: "ext-1", Title: "Ext"}},
		},
	})
	require.NoError(t, err)

	view := s.View()
	assert.Equal(t, DefaultLanguage, view.Language)
	assert.Equal(t, "/activity", view.InitialPath)
	assert.Equal(t, "Sidebar", view.Messages["title"])
	assert.True(t, view.Capabilities.MetadataFeatureEnabled)
	assert.Len(t, view.Capabilities.AdditionalTabs, 1)
	assert.True(t, view.Loading)
}

func TestInitialPath(t *testing.T) {
	assert.Equal(t, "/", initialPath(""))
	assert.Equal(t, "/metadata", initialPath("metadata"))
	assert.Equal(t, "/skills", initialPath("/skills"))
}

func TestChangeObserverSeesViewsInOrder(t *testing.T) {
	client := newGatedClient()
	client.items["A"] = &item.Item{ID: "A"}
	client.items["B"] = &item.Item{ID: "B"}

	var active, overlapped atomic.Int32
	rec := &viewRecorder{}
	s := mountWith(t, client, Options{
		TargetID:   "A",
		Visibility: visibility.Options{HasActivityFeed: true},
		OnChange: func(v View) {
			if active.Add(1) > 1 {
				overlapped.Add(1)
			}
			defer active.Add(-1)
			// Hold the loading view long enough for B's result to land.
			if v.Loading && v.TargetID == "B" {
				time.Sleep(50 * time.Millisecond)
			}
			rec.record(v)
		},
	})
	s.Wait()

	require.NoError(t, s.SetTarget("B"))
	s.Wait()

	final := s.View()
	require.False(t, final.Loading)
	views := rec.snapshot()
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	assert.Equal(t, "B", last.TargetID)
	assert.False(t, last.Loading, "observer was left with a stale loading view")
	require.NotNil(t, last.Item)
	assert.Equal(t, "B", last.Item.ID)
	assert.Zero(t, overlapped.Load(), "observer calls overlapped")
}

func TestFailedRefreshKeepsShownItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).
			Return(&item.Item{ID: "f", Name: "first"}, nil),
		client.EXPECT().GetFile(gomock.Any(), "f", gomock.Any()).
			Return(nil, sberrors.New(sberrors.ErrCodeRateLimited, "slow down")),
	)

	var codes []sberrors.ErrorCode
	s := mountWith(t, client, Options{
		TargetID:   "f",
		Visibility: visibility.Options{HasActivityFeed: true},
		OnError:    func(_ error, code sberrors.ErrorCode) { codes = append(codes, code) },
	})
	s.Wait()
	require.NoError(t, s.Refresh(transport.FetchOptions{ForceFetch: true}))
	s.Wait()

	view := s.View()
	assert.Equal(t, PhaseError, view.Phase)
	assert.Equal(t, sberrors.ErrCodeRateLimited, view.ErrorCode)
	require.NotNil(t, view.Item, "refresh failure dropped the item")
	assert.Equal(t, "first", view.Item.Name)
	assert.Equal(t, []sberrors.ErrorCode{sberrors.ErrCodeRateLimited}, codes)
}

func TestSettledCoversRestartDuringWait(t *testing.T) {
	client := newGatedClient()
	client.items["A"] = &item.Item{ID: "A"}
	client.items["B"] = &item.Item{ID: "B"}
	releaseA := client.gate("A")
	releaseB := client.gate("B")

	s := mountWith(t, client, Options{
		TargetID:   "A",
		Visibility: visibility.Options{HasActivityFeed: true},
	})

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	settled := s.Settled()

	require.NoError(t, s.SetTarget("B"))
	close(releaseA)

	select {
	case <-waited:
		t.Fatal("Wait returned while B was still in flight")
	case <-settled:
		t.Fatal("Settled closed while B was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(releaseB)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after every fetch finished")
	}
	<-settled
	assert.Equal(t, "B", s.View().Item.ID)

	select {
	case <-s.Settled():
	default:
		t.Fatal("idle sidebar should report settled")
	}
}
