package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/harvest/internal/fetch"
	"github.com/nao1215/harvest/internal/metrics"
	"github.com/nao1215/harvest/internal/model"
)

const (
	// DefaultChunkSize is the buffer size used to stream bodies to disk.
	DefaultChunkSize = 32 * 1024

	// DefaultConcurrency is the default number of parallel downloads.
	DefaultConcurrency = 4
)

// DefaultContentTypes are the media types accepted when none are configured.
var DefaultContentTypes = []string{"application/pdf"}

// Downloader conditionally fetches documents and stores them below a root
// directory.
type Downloader struct {
	// fetcher performs the requests.
	fetcher fetch.Fetcher

	// root is the destination root directory.
	root string

	// contentTypes are the accepted media types. Empty accepts anything.
	contentTypes []string

	// chunkSize is the copy buffer size.
	chunkSize int

	// concurrency bounds DownloadAll.
	concurrency int

	// pathLocks serializes writers of the same local path.
	pathLocks sync.Map

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithContentTypes sets the accepted media types, compared without
// parameters and case-insensitively. Calling it with no types disables the
// content type check.
func WithContentTypes(types ...string) Option {
	return func(d *Downloader) {
		d.contentTypes = d.contentTypes[:0:0]
		for _, t := range types {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				d.contentTypes = append(d.contentTypes, t)
			}
		}
	}
}

// WithChunkSize sets the buffer size used to stream bodies to disk.
func WithChunkSize(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithConcurrency sets the number of parallel downloads in DownloadAll.
func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

// New creates a Downloader saving below root.
func New(fetcher fetch.Fetcher, root string, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher:      fetcher,
		root:         root,
		contentTypes: slices.Clone(DefaultContentTypes),
		chunkSize:    DefaultChunkSize,
		concurrency:  DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d
}

// Root returns the destination root directory.
func (d *Downloader) Root() string {
	return d.root
}

// LocalPath returns the file rawURL is saved to.
func (d *Downloader) LocalPath(rawURL string) (string, error) {
	return LocalPath(d.root, rawURL)
}

// Download fetches rawURL and saves it unless an equally new or newer local
// copy exists. It never returns an error: every failure is classified in the
// returned outcome.
//
// Decision order:
//  1. Non-2xx status or transport failure -> transport_error
//  2. Content-Type present and not accepted -> wrong_content_type, nothing
//     is written
//  3. Local file exists and is not older than Last-Modified -> already_present
//  4. Otherwise the body is saved and its mtime set to Last-Modified -> saved
//
// A response without a usable Last-Modified header cannot prove the remote
// copy is newer, so an existing local file is kept.
func (d *Downloader) Download(ctx context.Context, rawURL string) (outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.TransportError(rawURL, model.SourceDownload, 0, fmt.Sprintf("panic: %v", r))
		}
		d.metrics.ObserveOutcome(outcome)
		d.log(outcome)
	}()

	dest, err := d.LocalPath(rawURL)
	if err != nil {
		return model.TransportError(rawURL, model.SourceDownload, 0, err.Error())
	}

	unlock := d.lockPath(dest)
	defer unlock()

	resp, err := d.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return withPath(model.TransportError(rawURL, model.SourceDownload, 0, err.Error()), dest)
	}
	defer resp.Body.Close()

	if !resp.OK() {
		return withPath(model.TransportError(rawURL, model.SourceDownload, resp.StatusCode, resp.Reason), dest)
	}

	// Only a declared media type can be wrong.
	if mt := resp.MediaType(); mt != "" && !d.accepts(mt) {
		return model.WrongContentType(rawURL, mt)
	}

	remote, hasRemote := lastModified(resp.Header)

	info, err := os.Stat(dest)
	switch {
	case err == nil && info.IsDir():
		return withPath(model.TransportError(rawURL, model.SourceDownload, 0, "destination is a directory"), dest)
	case err == nil:
		local := info.ModTime()
		if !hasRemote || !remote.After(local) {
			return model.AlreadyPresent(rawURL, dest, local, remote)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return withPath(model.TransportError(rawURL, model.SourceDownload, 0, err.Error()), dest)
	}

	n, checksum, err := d.save(dest, resp.Body, remote)
	if err != nil {
		return withPath(model.TransportError(rawURL, model.SourceDownload, 0, err.Error()), dest)
	}

	return model.Saved(rawURL, dest, remote, n, checksum)
}

// DownloadAll downloads urls with bounded concurrency. The outcomes are in
// the order of urls. A failure or panic for one URL is recorded in its
// outcome and never stops the others.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) []model.Outcome {
	outcomes := make([]model.Outcome, len(urls))

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, u := range urls {
		g.Go(func() error {
			outcomes[i] = d.Download(ctx, u)
			return nil
		})
	}

	// Download never fails; Wait only joins the workers.
	_ = g.Wait()

	return outcomes
}

// save streams body into dest through a temporary file in the same
// directory and renames it into place.
func (d *Downloader) save(dest string, body io.Reader, modTime time.Time) (n int64, checksum string, err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				_ = tmp.Close()
			}
			_ = os.Remove(tmpName)
		}
	}()

	hash := sha3.New256()
	buf := make([]byte, d.chunkSize)

	// The struct wrapper hides WriterTo/ReaderFrom so the copy always goes
	// through buf in bounded chunks.
	n, err = io.CopyBuffer(io.MultiWriter(tmp, hash), struct{ io.Reader }{body}, buf)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read body: %w", err)
	}

	if err = tmp.Chmod(0o644); err != nil {
		return 0, "", fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, "", fmt.Errorf("failed to sync file: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to close file: %w", err)
	}

	if !modTime.IsZero() {
		if err = os.Chtimes(tmpName, modTime, modTime); err != nil {
			return 0, "", fmt.Errorf("failed to set modification time: %w", err)
		}
	}

	if err = os.Rename(tmpName, dest); err != nil {
		return 0, "", fmt.Errorf("failed to move file into place: %w", err)
	}

	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

// accepts reports whether mediaType is one of the configured types.
func (d *Downloader) accepts(mediaType string) bool {
	if len(d.contentTypes) == 0 {
		return true
	}
	return slices.Contains(d.contentTypes, mediaType)
}

// lockPath serializes downloads targeting the same file, which happens when
// two URLs differ only in their query string.
func (d *Downloader) lockPath(dest string) func() {
	v, _ := d.pathLocks.LoadOrStore(dest, &sync.Mutex{})
	mu, _ := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (d *Downloader) log(o model.Outcome) {
	switch o.Kind {
	case model.OutcomeSaved:
		d.logger.Info("saved", "url", o.URL, "path", o.Path, "bytes", o.Bytes)
	case model.OutcomeAlreadyPresent:
		d.logger.Debug("already present", "url", o.URL, "path", o.Path)
	case model.OutcomeWrongContentType:
		d.logger.Warn("wrong content type", "url", o.URL, "content_type", o.ContentType)
	case model.OutcomeTransportError:
		d.logger.Warn("download failed", "url", o.URL, "reason", o.Detail())
	}
}

// lastModified parses the Last-Modified header.
func lastModified(h http.Header) (time.Time, bool) {
	v := h.Get("Last-Modified")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func withPath(o model.Outcome, dest string) model.Outcome {
	o.Path = dest
	return o
}
