package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lingest/internal/config"
	"lingest/internal/services"
)

const (
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 4

	transcribePath = "/v1/transcribe"
	translatePath  = "/v1/translate"
)

// Request describes one audio slice to transcribe and translate. Start and
// End are absolute media offsets; the service receives the slice bounds and
// replies with slice-relative segment times.
type Request struct {
	AudioURI       string
	Start          time.Duration
	End            time.Duration
	SourceLanguage string
	TargetLanguage string
	// Strict asks the service for a conservatively formatted reply. Used on
	// the single retry after a malformed payload.
	Strict bool
}

// Segment is one sentence-level result with times relative to the requested
// slice start.
type Segment struct {
	Start          time.Duration
	End            time.Duration
	Transcript     string
	Translation    string
	QualityWarning bool
}

// Client talks to the external transcription and translation service.
type Client struct {
	cfg        config.Speech
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the configured retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a speech client from the configured settings.
func NewClient(cfg config.Speech, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	if cfg.RetryMaxAttempts > 0 {
		client.retryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseSeconds > 0 {
		client.retryBaseDelay = time.Duration(cfg.RetryBaseSeconds) * time.Second
	}
	if cfg.RetryMaxSeconds > 0 {
		client.retryMaxDelay = time.Duration(cfg.RetryMaxSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("speech request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type transcribeRequest struct {
	AudioURI       string `json:"audio_uri"`
	StartMS        int64  `json:"start_ms"`
	EndMS          int64  `json:"end_ms"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Model          string `json:"model,omitempty"`
	Strict         bool   `json:"strict,omitempty"`
}

type wireSegment struct {
	StartMS        int64  `json:"start_ms"`
	EndMS          int64  `json:"end_ms"`
	Transcript     string `json:"transcript"`
	Translation    string `json:"translation"`
	QualityWarning bool   `json:"quality_warning"`
}

type transcribeResponse struct {
	Segments []wireSegment `json:"segments"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type translateRequest struct {
	Transcript     string `json:"transcript"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Model          string `json:"model,omitempty"`
	Strict         bool   `json:"strict,omitempty"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe sends one audio slice and returns its segments with
// slice-relative times. Transport and server-side failures come back tagged
// transient; unparseable or out-of-bounds payloads come back tagged
// malformed so the caller can decide on the strict retry.
func (c *Client) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	if strings.TrimSpace(req.AudioURI) == "" {
		return nil, services.Wrap(services.ErrValidation, "speech", "transcribe", "audio uri required", nil)
	}
	if req.End <= req.Start {
		return nil, services.Wrap(services.ErrValidation, "speech", "transcribe",
			fmt.Sprintf("slice bounds invalid: %s >= %s", req.Start, req.End), nil)
	}

	payload := transcribeRequest{
		AudioURI:       req.AudioURI,
		StartMS:        req.Start.Milliseconds(),
		EndMS:          req.End.Milliseconds(),
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Model:          c.cfg.Model,
		Strict:         req.Strict,
	}

	body, err := c.postWithRetry(ctx, transcribePath, payload, "transcribe")
	if err != nil {
		return nil, err
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrMalformed, "speech", "transcribe", "decode response", err)
	}
	if decoded.Error != nil {
		return nil, services.Wrap(services.ErrMalformed, "speech", "transcribe",
			"service error: "+strings.TrimSpace(decoded.Error.Message), nil)
	}

	sliceLen := req.End - req.Start
	segments := make([]Segment, 0, len(decoded.Segments))
	for i, ws := range decoded.Segments {
		segment := Segment{
			Start:          time.Duration(ws.StartMS) * time.Millisecond,
			End:            time.Duration(ws.EndMS) * time.Millisecond,
			Transcript:     strings.TrimSpace(ws.Transcript),
			Translation:    strings.TrimSpace(ws.Translation),
			QualityWarning: ws.QualityWarning,
		}
		if segment.Start < 0 || segment.End <= segment.Start || segment.End > sliceLen {
			return nil, services.Wrap(services.ErrMalformed, "speech", "transcribe",
				fmt.Sprintf("segment %d outside slice bounds: [%s, %s) in %s", i, segment.Start, segment.End, sliceLen), nil)
		}
		if segment.Transcript == "" {
			return nil, services.Wrap(services.ErrMalformed, "speech", "transcribe",
				fmt.Sprintf("segment %d has empty transcript", i), nil)
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

// Retranslate requests a fresh translation for a single transcript. Used for
// targeted sentence repair.
func (c *Client) Retranslate(ctx context.Context, transcript, sourceLanguage, targetLanguage string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", services.Wrap(services.ErrValidation, "speech", "retranslate", "transcript required", nil)
	}

	payload := translateRequest{
		Transcript:     transcript,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		Model:          c.cfg.Model,
		Strict:         true,
	}
	body, err := c.postWithRetry(ctx, translatePath, payload, "retranslate")
	if err != nil {
		return "", err
	}

	var decoded translateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrMalformed, "speech", "retranslate", "decode response", err)
	}
	if decoded.Error != nil {
		return "", services.Wrap(services.ErrMalformed, "speech", "retranslate",
			"service error: "+strings.TrimSpace(decoded.Error.Message), nil)
	}
	translation := strings.TrimSpace(decoded.Translation)
	if translation == "" {
		return "", services.Wrap(services.ErrMalformed, "speech", "retranslate", "empty translation", nil)
	}
	return translation, nil
}

// HealthCheck verifies the service endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/v1/health")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "speech", "health", "build url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("speech health: new request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "speech", "health", "endpoint unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrTransient, "speech", "health",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func (c *Client) postWithRetry(ctx context.Context, path string, payload any, op string) ([]byte, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.postOnce(ctx, path, payload)
		if err == nil {
			return body, nil
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, classifyRequestError(op, err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, services.Wrap(services.ErrTransient, "speech", op, "retry interrupted", sleepErr)
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, services.Wrap(services.ErrTransient, "speech", op,
		fmt.Sprintf("failed after %d attempts", attempts), lastErr)
}

// classifyRequestError tags a non-retryable request error. Auth failures are
// configuration problems; other client-side rejections mean the request body
// was not acceptable.
func classifyRequestError(op string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, "speech", op, "authentication rejected", err)
		case statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError:
			return services.Wrap(services.ErrMalformed, "speech", op, "request rejected", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, "speech", op, "request cancelled", err)
	}
	return services.Wrap(services.ErrTransient, "speech", op, "request failed", err)
}

func (c *Client) postOnce(ctx context.Context, path string, payload any) ([]byte, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("speech request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("speech request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("speech request: new request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	maxDelay := c.retryMaxDelay
	if base <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
