// Package fetch performs rate-limited remote-to-local transfers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding/charmap"

	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/flow"
	"github.com/secflow/secflow/pkg/storage/cache"
	"github.com/secflow/secflow/pkg/telemetry"
)

// DefaultHost is the Host header the provider expects.
const DefaultHost = "www.sec.gov"

// DefaultBinaryTypes are URL suffixes stored as raw bytes.
var DefaultBinaryTypes = []string{"gz", "zip", "Z"}

// Limiter grants permission for one outbound request.
type Limiter interface {
	Allow() flow.Permit
}

// Mirror receives a copy of every file written to the cache and can restore
// it on a later miss. Keys are cache-relative slash paths.
type Mirror interface {
	Upload(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, localPath string) error
}

// Options configures a Fetcher.
type Options struct {
	// Custom HTTP client
	Client *http.Client

	// Timeout applies when Client is nil.
	Timeout time.Duration

	// UserAgent identifies the caller to the provider, e.g.
	// "Example Corp admin@example.com".
	UserAgent string

	// Host overrides the Host header; defaults to DefaultHost.
	Host string

	// BinaryTypes lists URL suffixes written as raw bytes.
	BinaryTypes []string

	Mirror Mirror
	Logger *slog.Logger
}

// Fetcher downloads one resource at a time through a shared limiter.
type Fetcher struct {
	client      *http.Client
	limiter     Limiter
	store       *cache.Store
	userAgent   string
	host        string
	binaryTypes map[string]bool
	mirror      Mirror
	logger      *slog.Logger

	requests atomic.Int64
}

// New creates a Fetcher. A missing user agent is logged but allowed; the
// provider may still reject unidentified requests.
func New(limiter Limiter, store *cache.Store, opts *Options) *Fetcher {
	if opts == nil {
		opts = &Options{}
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	host := opts.Host
	if host == "" {
		host = DefaultHost
	}

	types := opts.BinaryTypes
	if len(types) == 0 {
		types = DefaultBinaryTypes
	}
	binaryTypes := make(map[string]bool, len(types))
	for _, t := range types {
		binaryTypes[strings.TrimPrefix(t, ".")] = true
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		logger.Warn("no user agent configured; the provider requires \"<Company Name> <admin@company.com>\"")
	}

	return &Fetcher{
		client:      client,
		limiter:     limiter,
		store:       store,
		userAgent:   opts.UserAgent,
		host:        host,
		binaryTypes: binaryTypes,
		mirror:      opts.Mirror,
		logger:      logger,
	}
}

// Result describes a completed transfer.
type Result struct {
	URL    string
	Path   string
	Bytes  int64
	Binary bool
	Waited time.Duration

	// Restored is set when the file came from the mirror instead of the
	// provider.
	Restored bool

	// Content is set only when requested: raw bytes for binary resources,
	// UTF-8 text for everything else.
	Content []byte
}

type fetchConfig struct {
	content      bool
	fromProvider bool
}

// FetchOption configures a single Fetch call.
type FetchOption func(*fetchConfig)

// WithContent returns the resource content in Result.Content.
func WithContent() FetchOption {
	return func(c *fetchConfig) { c.content = true }
}

// FromProvider skips the mirror restore. Use it for resources that change
// after they are first published, such as the current quarter's index.
func FromProvider() FetchOption {
	return func(c *fetchConfig) { c.fromProvider = true }
}

// Requests returns the number of network requests issued.
func (f *Fetcher) Requests() int64 {
	return f.requests.Load()
}

// IsBinary reports whether rawURL's suffix marks a binary resource.
func (f *Fetcher) IsBinary(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return ext != "" && f.binaryTypes[ext]
}

// Fetch downloads rawURL to localPath.
//
// The file appears at localPath only after the full body has been received
// and written, so a failed transfer never leaves something that looks cached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, localPath string, opts ...FetchOption) (res *Result, err error) {
	var cfg fetchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := telemetry.Start(ctx, "fetch",
		attribute.String("url", rawURL),
		attribute.String("path", localPath),
	)
	defer func() { telemetry.End(span, err) }()

	if f.mirror != nil && !cfg.fromProvider {
		if res, ok := f.restore(ctx, rawURL, localPath, cfg); ok {
			span.SetAttributes(attribute.Bool("restored", true))
			return res, nil
		}
	}

	permit := f.limiter.Allow()

	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, errors.Transfer(err, rawURL, localPath)
	}

	binary := f.IsBinary(rawURL)
	data, text := body, []byte(nil)
	if !binary {
		// Decode to UTF-8 and re-encode; the written bytes equal the
		// received bytes for every single-byte value.
		text, err = charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDecode, "failed to decode text").
				WithContext("url", rawURL).
				WithContext("path", localPath)
		}
		data, err = charmap.ISO8859_1.NewEncoder().Bytes(text)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDecode, "failed to encode text").
				WithContext("url", rawURL).
				WithContext("path", localPath)
		}
	}

	if err := f.writeAtomic(localPath, data); err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheWrite, "failed to write cache file").
			WithContext("url", rawURL).
			WithContext("path", localPath)
	}
	f.logger.Debug("fetched", "url", rawURL, "path", localPath, "bytes", len(data), "waited", permit.Waited)

	if f.mirror != nil {
		f.upload(ctx, localPath)
	}

	res = &Result{
		URL:    rawURL,
		Path:   localPath,
		Bytes:  int64(len(data)),
		Binary: binary,
		Waited: permit.Waited,
	}
	if cfg.content {
		if binary {
			res.Content = data
		} else {
			res.Content = text
		}
	}
	return res, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Host = f.host

	f.requests.Add(1)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf(errors.CodeStatus, "unexpected status code: %d", resp.StatusCode).
			WithContext("body", strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

// writeAtomic writes data to a temp file beside dest and renames it into place.
func (f *Fetcher) writeAtomic(dest string, data []byte) error {
	if err := f.store.EnsureParentDirs(dest); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, 0644)
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (f *Fetcher) upload(ctx context.Context, localPath string) {
	key, err := f.store.Rel(localPath)
	if err != nil {
		f.logger.Warn("mirror skipped", "path", localPath, "error", err)
		return
	}
	if err := f.mirror.Upload(ctx, key, localPath); err != nil {
		f.logger.Warn("mirror upload failed", "key", key, "error", err)
	}
}

// restore copies localPath's mirrored object into the cache. Any mirror
// failure falls back to the provider.
func (f *Fetcher) restore(ctx context.Context, rawURL, localPath string, cfg fetchConfig) (*Result, bool) {
	key, err := f.store.Rel(localPath)
	if err != nil {
		return nil, false
	}
	ok, err := f.mirror.Exists(ctx, key)
	if err != nil {
		f.logger.Warn("mirror lookup failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if err := f.mirror.Download(ctx, key, localPath); err != nil {
		f.logger.Warn("mirror restore failed", "key", key, "error", err)
		return nil, false
	}
	if !f.store.Exists(localPath) {
		_ = f.store.Remove(localPath)
		return nil, false
	}

	binary := f.IsBinary(rawURL)
	res := &Result{URL: rawURL, Path: localPath, Binary: binary, Restored: true}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, false
	}
	res.Bytes = int64(len(data))
	if cfg.content {
		if binary {
			res.Content = data
		} else if res.Content, err = charmap.ISO8859_1.NewDecoder().Bytes(data); err != nil {
			return nil, false
		}
	}
	f.logger.Debug("restored from mirror", "key", key, "path", localPath)
	return res, true
}
