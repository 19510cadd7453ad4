package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/odvcencio/sidebar/pkg/cache"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/telemetry"
)

const (
	cacheKeyFilePrefix     = "file_"
	cacheKeyMetadataPrefix = "metadata_"

	// Skills cards are rendered by the skills panel, never as an editor.
	skillsTemplateKey = "boxSkillsCards"

	maxErrorBody = 4 << 10
)

// FileCacheKey is the cache key of an item record.
func FileCacheKey(fileID string) string { return cacheKeyFilePrefix + fileID }

// MetadataCacheKey is the cache key of an item's metadata editors.
func MetadataCacheKey(fileID string) string { return cacheKeyMetadataPrefix + fileID }

// cachedFile is the cache payload for an item: the record plus the
// fields it was fetched with, so a later fetch asking for more fields
// misses.
type cachedFile struct {
	Fields []string        `json:"fields"`
	Item   json.RawMessage `json:"item"`
}

// HTTPClient implements Client against the Box content API.
type HTTPClient struct {
	apiHost            string
	clientName         string
	token              string
	sharedLink         string
	sharedLinkPassword string

	cache       cache.Cache
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryConfig
	requestFns  []RequestInterceptor
	responseFns []ResponseInterceptor
	logger      *logging.Logger

	group    singleflight.Group
	released atomic.Bool
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient is the default Factory.
func NewHTTPClient(opts Options) (Client, error) {
	return newHTTPClient(opts)
}

func newHTTPClient(opts Options) (*HTTPClient, error) {
	host := strings.TrimRight(strings.TrimSpace(opts.APIHost), "/")
	if host == "" {
		host = DefaultAPIHost
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeConfigInvalid, "invalid api host").
			WithContext("api_host", host)
	}
	clientName := opts.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	limit := opts.RateLimit
	if limit == 0 {
		limit = DefaultRateLimit
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	rt := opts.Transport
	if rt == nil {
		rt = DefaultTransport()
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewMemory()
	}

	return &HTTPClient{
		apiHost:            host,
		clientName:         clientName,
		token:              opts.Token,
		sharedLink:         opts.SharedLink,
		sharedLinkPassword: opts.SharedLinkPassword,
		cache:              c,
		httpClient:         &http.Client{Timeout: timeout, Transport: rt},
		limiter:            rate.NewLimiter(limit, burst),
		retry:              retry,
		requestFns:         append([]RequestInterceptor(nil), opts.RequestInterceptors...),
		responseFns:        append([]ResponseInterceptor(nil), opts.ResponseInterceptors...),
		logger:             opts.Logger,
	}, nil
}

// Cache returns the cache backing this client.
func (c *HTTPClient) Cache() cache.Cache { return c.cache }

// Release implements Client.
func (c *HTTPClient) Release() {
	c.released.Store(true)
}

// ReleaseAndPurge implements Client.
func (c *HTTPClient) ReleaseAndPurge() {
	c.released.Store(true)
	c.cache.Purge()
	_ = c.logger.Info(logging.CategoryCache, "cache.purged", "transport cache purged", nil)
}

func (c *HTTPClient) checkReleased() error {
	if c.released.Load() {
		return sberrors.New(sberrors.ErrCodeClientReleased, "transport client has been released")
	}
	return nil
}

// GetFile implements Client.
func (c *HTTPClient) GetFile(ctx context.Context, fileID string, opts FetchOptions) (*item.Item, error) {
	if err := c.checkReleased(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileID) == "" {
		return nil, sberrors.New(sberrors.ErrCodeInvalidInput, "file id is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "transport.GetFile", attribute.String("file.id", fileID))
	defer span.End()

	fields := item.MergeFields(opts.Fields)
	key := FileCacheKey(fileID)

	if opts.ForceFetch {
		c.cache.Unset(key)
	}
	if !opts.ForceFetch && !opts.RefreshCache {
		if it, ok := c.cachedFile(key, fields); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return it, nil
		}
	}

	query := url.Values{"fields": {strings.Join(fields, ",")}}
	path := "/2.0/files/" + url.PathEscape(fileID)
	flightKey := key + "?" + query.Encode()

	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		return c.get(ctx, path, query)
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	raw := v.([]byte)

	var it item.Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeDecode, "decode file").WithContext("file_id", fileID)
	}

	if payload, err := json.Marshal(cachedFile{Fields: fields, Item: raw}); err == nil {
		c.cache.Set(key, payload)
	}
	return &it, nil
}

func (c *HTTPClient) cachedFile(key string, fields []string) (*item.Item, bool) {
	data, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	var entry cachedFile
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	have := make(map[string]struct{}, len(entry.Fields))
	for _, f := range entry.Fields {
		have[f] = struct{}{}
	}
	for _, f := range fields {
		if _, ok := have[f]; !ok {
			return nil, false
		}
	}
	var it item.Item
	if err := json.Unmarshal(entry.Item, &it); err != nil {
		return nil, false
	}
	return &it, true
}

// metadataInstances is the wire shape of GET /files/{id}/metadata.
type metadataInstances struct {
	Entries []map[string]any `json:"entries"`
}

// GetMetadata implements Client.
func (c *HTTPClient) GetMetadata(ctx context.Context, file *item.Item, opts MetadataOptions) ([]item.MetadataEditor, error) {
	if err := c.checkReleased(); err != nil {
		return nil, err
	}
	if file == nil || file.ID == "" {
		return nil, sberrors.New(sberrors.ErrCodeInvalidInput, "a loaded file is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "transport.GetMetadata",
		attribute.String("file.id", file.ID),
		attribute.Bool("metadata.feature_enabled", opts.FeatureEnabled),
	)
	defer span.End()

	key := MetadataCacheKey(file.ID)
	if opts.ForceFetch {
		c.cache.Unset(key)
	} else if data, ok := c.cache.Get(key); ok {
		var editors []item.MetadataEditor
		if err := json.Unmarshal(data, &editors); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return applyFeature(editors, opts.FeatureEnabled), nil
		}
	}

	path := "/2.0/files/" + url.PathEscape(file.ID) + "/metadata"
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.get(ctx, path, nil)
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}

	var instances metadataInstances
	if err := json.Unmarshal(v.([]byte), &instances); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeDecode, "decode metadata").WithContext("file_id", file.ID)
	}
	editors := editorsFromInstances(file, instances.Entries)

	if payload, err := json.Marshal(editors); err == nil {
		c.cache.Set(key, payload)
	}
	return applyFeature(editors, opts.FeatureEnabled), nil
}

func editorsFromInstances(file *item.Item, entries []map[string]any) []item.MetadataEditor {
	canUpload := file.Permissions != nil && (file.Permissions.CanUpload || file.Permissions.CanEditMetadata)
	editors := make([]item.MetadataEditor, 0, len(entries))
	for _, entry := range entries {
		templateKey, _ := entry["$template"].(string)
		if templateKey == "" || templateKey == skillsTemplateKey {
			continue
		}
		id, _ := entry["$id"].(string)
		scope, _ := entry["$scope"].(string)
		canEdit := canUpload
		if v, ok := entry["$canEdit"].(bool); ok {
			canEdit = v
		}
		fields := make(map[string]any)
		for k, v := range entry {
			if !strings.HasPrefix(k, "$") {
				fields[k] = v
			}
		}
		editors = append(editors, item.MetadataEditor{
			InstanceID:  id,
			TemplateKey: templateKey,
			Scope:       scope,
			DisplayName: templateKey,
			CanEdit:     canEdit,
			Fields:      fields,
		})
	}
	sort.SliceStable(editors, func(i, j int) bool {
		return editors[i].TemplateKey < editors[j].TemplateKey
	})
	return editors
}

// Without the feature the panel shows instances read-only.
func applyFeature(editors []item.MetadataEditor, featureEnabled bool) []item.MetadataEditor {
	if featureEnabled {
		return editors
	}
	out := make([]item.MetadataEditor, len(editors))
	for i, e := range editors {
		e.CanEdit = false
		out[i] = e
	}
	return out
}

// Get performs an authenticated GET against the API and decodes the JSON
// body into out. Sub-panels use it for their own reads through the same
// client.
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeDecode, "decode response").WithContext("path", path)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.apiHost + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.backoff(attempt - 1)
			if e, ok := sberrors.As(lastErr); ok && e.StatusCode == http.StatusTooManyRequests {
				if d, ok := e.Context["retry_after"].(time.Duration); ok {
					delay = d
				}
			}
			select {
			case <-ctx.Done():
				return nil, sberrors.Wrap(ctx.Err(), sberrors.ErrCodeTransport, "request cancelled")
			case <-time.After(delay):
			}
		}

		body, err := c.do(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !sberrors.IsRetryable(err) {
			return nil, err
		}
		_ = c.logger.Debug(logging.CategoryTransport, "request.retry", "retrying request", map[string]any{
			"path":    path,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	return nil, lastErr
}

func (c *HTTPClient) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeInternal, "build request")
	}
	c.decorate(req)
	for _, fn := range c.requestFns {
		if err := fn(req); err != nil {
			return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "request interceptor")
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "rate limit wait")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordTransportRequest("error")
		retryable := ctx.Err() == nil
		return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "request failed").WithRetryable(retryable)
	}
	defer resp.Body.Close()
	telemetry.RecordTransportRequest(fmt.Sprintf("%dxx", resp.StatusCode/100))

	_ = c.logger.Debug(logging.CategoryTransport, "request.done", req.URL.Path, map[string]any{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"request_id":  req.Header.Get("X-Request-Id"),
	})

	for _, fn := range c.responseFns {
		if err := fn(resp); err != nil {
			return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "response interceptor")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp, snippet, c.retry.MaxInterval)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "read response").WithRetryable(true)
	}
	return body, nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Box-Client-Name", c.clientName)
	req.Header.Set("X-Request-Id", ulid.Make().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.sharedLink != "" {
		v := "shared_link=" + url.QueryEscape(c.sharedLink)
		if c.sharedLinkPassword != "" {
			v += "&shared_link_password=" + url.QueryEscape(c.sharedLinkPassword)
		}
		req.Header.Set("BoxApi", v)
	}
}

// apiError is the Box error body.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func statusError(resp *http.Response, body []byte, retryLimit time.Duration) error {
	var payload apiError
	_ = json.Unmarshal(body, &payload)
	message := payload.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	var e *sberrors.Error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e = sberrors.New(sberrors.ErrCodeUnauthorized, message)
	case resp.StatusCode == http.StatusNotFound:
		e = sberrors.New(sberrors.ErrCodeNotFound, message)
	case resp.StatusCode == http.StatusTooManyRequests:
		e = sberrors.New(sberrors.ErrCodeRateLimited, message).WithRetryable(true)
		if d, ok := retryAfter(resp, retryLimit); ok {
			e.WithContext("retry_after", d)
		}
	case retryableStatus(resp.StatusCode):
		e = sberrors.New(sberrors.ErrCodeTransport, message).WithRetryable(true)
	default:
		e = sberrors.New(sberrors.ErrCodeTransport, message)
	}
	e.WithStatus(resp.StatusCode)
	if payload.Code != "" {
		e.WithContext("api_code", payload.Code)
	}
	if payload.RequestID != "" {
		e.WithContext("request_id", payload.RequestID)
	}
	return e
}
