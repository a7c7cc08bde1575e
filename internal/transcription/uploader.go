package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/audio"
	"github.com/M1TCH3llM/VideoChat/internal/auth"
	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Upload after Close.
var ErrClosed = errors.New("transcription: uploader closed")

// CredentialSource supplies the bearer credential for each upload.
type CredentialSource interface {
	Current() (auth.Credential, bool)
}

// Config contains uploader configuration
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	MaxConcurrent int
	MaxRetries    int           // 0 sends each chunk once
	RetryBackoff  time.Duration // doubled per retry, capped at 30s
	FileName      string        // multipart file name without extension
	UserAgent     string
}

// StatusError is a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// UploaderStats represents uploader statistics
type UploaderStats struct {
	Dispatched      uint64        `json:"dispatched"`
	Succeeded       uint64        `json:"succeeded"`
	Failed          uint64        `json:"failed"`
	Skipped         uint64        `json:"skipped"`
	Retries         uint64        `json:"retries"`
	InFlight        int64         `json:"in_flight"`
	BytesSent       uint64        `json:"bytes_sent"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Uploader posts chunks to the transcription endpoint.
type Uploader struct {
	config     Config
	httpClient *http.Client
	creds      CredentialSource
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sem        *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	stats  UploaderStats
}

// NewUploader creates an uploader.
func NewUploader(config Config, creds CredentialSource, logger *slog.Logger, m *metrics.Metrics) (*Uploader, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential source cannot be nil")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.FileName == "" {
		config.FileName = "chunk"
	}
	if config.UserAgent == "" {
		config.UserAgent = "callconsole/1.0"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: config.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		creds:   creds,
		logger:  logger,
		metrics: m,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Dispatch uploads chunk in the background and returns immediately.
func (u *Uploader) Dispatch(chunk *audio.AudioChunk) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		u.logger.Debug("Dropping chunk, uploader closed", slog.String("chunk_id", chunk.ID))
		return
	}
	u.stats.Dispatched++
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		if err := u.Upload(u.ctx, chunk); err != nil {
			if errors.Is(err, auth.ErrNoCredential) {
				u.logger.Warn("Skipping chunk upload, not logged in", slog.String("chunk_id", chunk.ID))
				return
			}
			u.logger.Warn("Chunk upload failed",
				slog.String("chunk_id", chunk.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// Upload sends chunk synchronously, retrying transient failures.
func (u *Uploader) Upload(ctx context.Context, chunk *audio.AudioChunk) error {
	cred, ok := u.creds.Current()
	if !ok {
		u.mu.Lock()
		u.stats.Skipped++
		u.mu.Unlock()
		u.metrics.RecordUploadSkipped()
		return auth.ErrNoCredential
	}

	if err := u.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire upload slot: %w", err)
	}
	defer u.sem.Release(1)

	u.setInFlight(1)
	defer u.setInFlight(-1)
	u.metrics.RecordUploadStarted()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			u.mu.Lock()
			u.stats.Retries++
			u.mu.Unlock()
			u.metrics.RecordUploadRetry()

			backoff := u.config.RetryBackoff << (attempt - 1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				u.finish(false, 0, time.Since(start))
				return ctx.Err()
			}
		}

		lastErr = u.doRequest(ctx, chunk, cred)
		if lastErr == nil {
			u.finish(true, chunk.SizeBytes, time.Since(start))
			u.logger.Debug("Chunk uploaded",
				slog.String("chunk_id", chunk.ID),
				slog.Int("size_bytes", chunk.SizeBytes),
				slog.Duration("took", time.Since(start)))
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	u.finish(false, 0, time.Since(start))
	return fmt.Errorf("upload failed after %d attempts: %w", u.config.MaxRetries+1, lastErr)
}

func (u *Uploader) doRequest(ctx context.Context, chunk *audio.AudioChunk, cred auth.Credential) error {
	body, contentType, err := u.createMultipartBody(chunk, cred.Username)
	if err != nil {
		return fmt.Errorf("failed to create multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("User-Agent", u.config.UserAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// response body is ignored beyond error reporting
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// createMultipartBody builds the audio file part and the user field.
func (u *Uploader) createMultipartBody(chunk *audio.AudioChunk, user string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="%s"`, chunk.FileName(u.config.FileName)))
	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("user", user); err != nil {
		return nil, "", fmt.Errorf("failed to write user field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether err is worth another attempt: 5xx and 429
// responses, timeouts and network errors.
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (u *Uploader) setInFlight(delta int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.InFlight += delta
}

func (u *Uploader) finish(ok bool, size int, took time.Duration) {
	result := "error"
	if ok {
		result = "ok"
	}
	u.metrics.RecordUploadFinished(result, took.Seconds())

	u.mu.Lock()
	defer u.mu.Unlock()
	if ok {
		u.stats.Succeeded++
		u.stats.BytesSent += uint64(size)
		if u.stats.AvgResponseTime == 0 {
			u.stats.AvgResponseTime = took
		} else {
			u.stats.AvgResponseTime = (u.stats.AvgResponseTime + took) / 2
		}
	} else {
		u.stats.Failed++
	}
}

// GetStats returns current uploader statistics
func (u *Uploader) GetStats() UploaderStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Close stops accepting chunks and waits for in-flight uploads. If ctx ends
// first, remaining uploads are cancelled.
func (u *Uploader) Close(ctx context.Context) error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.cancel()
		return nil
	case <-ctx.Done():
		u.cancel()
		<-done
		return ctx.Err()
	}
}
