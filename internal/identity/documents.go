package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("identity: document not found")
	// ErrConflict is returned when a document changed since it was read.
	ErrConflict = errors.New("identity: document changed since read")
)

// DocumentClient reads and replaces whole JSON documents addressed by folder and name.
type DocumentClient interface {
	Get(ctx context.Context, folder, name string) ([]byte, error)
	Put(ctx context.Context, folder, name string, data []byte) error
}

// ComparingDocumentClient is implemented by backends that can replace a
// document only when its current revision matches.
type ComparingDocumentClient interface {
	DocumentClient
	CompareAndPut(ctx context.Context, folder, name, revision string, data []byte) error
}

// HTTPDocuments talks to the CDN-backed document store: documents are read with
// GET {base}{folder}/{name} and replaced with POST {base}/update-json.
type HTTPDocuments struct {
	baseURL    string
	authToken  string
	timeout    time.Duration
	maxRetries uint64
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPDocumentsOptions configures an HTTPDocuments client.
type HTTPDocumentsOptions struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPDocuments creates a document client for the given CDN base URL.
func NewHTTPDocuments(opts HTTPDocumentsOptions) *HTTPDocuments {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base := opts.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &HTTPDocuments{
		baseURL:    base,
		authToken:  opts.AuthToken,
		timeout:    opts.Timeout,
		maxRetries: uint64(opts.MaxRetries),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.Named("documents"),
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("identity store responded %d", e.code)
}

// Get fetches a document, retrying transport errors and 5xx responses.
func (d *HTTPDocuments) Get(ctx context.Context, folder, name string) ([]byte, error) {
	url := d.baseURL + folder + "/" + name

	var body []byte
	op := func() error {
		b, err := d.get(ctx, url)
		if err == nil {
			body = b
			return nil
		}
		var se *statusError
		if errors.Is(err, ErrNotFound) || (errors.As(err, &se) && se.code < 500) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("document_get_retry", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (d *HTTPDocuments) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if d.authToken != "" {
		req.Header.Set("Authorization", d.authToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type updateRequest struct {
	Folder   string          `json:"folder"`
	Filename string          `json:"filename"`
	Data     json.RawMessage `json:"data"`
}

// Put replaces a document. Writes are not retried: a retried write could
// clobber a concurrent writer that landed in between.
func (d *HTTPDocuments) Put(ctx context.Context, folder, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	payload, err := json.Marshal(updateRequest{Folder: folder, Filename: name, Data: data})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"update-json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", d.authToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	d.logger.Debug("document_written", zap.String("folder", folder), zap.String("name", name))
	return nil
}

// MemoryDocuments is an in-process document store with atomic compare-and-put.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryDocuments returns an empty in-memory document store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string][]byte)}
}

func docKey(folder, name string) string { return folder + "/" + name }

// Get returns a copy of the stored document.
func (m *MemoryDocuments) Get(_ context.Context, folder, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[docKey(folder, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

// Put stores a copy of data.
func (m *MemoryDocuments) Put(_ context.Context, folder, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[docKey(folder, name)] = bytes.Clone(data)
	return nil
}

// CompareAndPut stores data only if the current document still has revision.
// An empty revision means the document must not exist yet.
func (m *MemoryDocuments) CompareAndPut(_ context.Context, folder, name, revision string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(folder, name)
	current, ok := m.docs[key]
	currentRev := ""
	if ok {
		currentRev = Revision(current)
	}
	if currentRev != revision {
		return ErrConflict
	}
	m.docs[key] = bytes.Clone(data)
	return nil
}
