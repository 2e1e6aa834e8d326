package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/rescale/cloudcmd/internal/logging"
)

// maxBody bounds how much of the answer is read.
const maxBody = 4096

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(string, ...interface{})  {}
func (l *retryLogger) Debug(string, ...interface{}) {}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Checker asks a release endpoint for the newest version. The endpoint
// answers either with the bare version string or with {"version": "..."}.
type Checker struct {
	url        string
	httpClient *nethttp.Client
	logger     *logging.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	latest string
}

// NewChecker creates a checker for url using httpClient (nil for the default
// client) wrapped with retries.
func NewChecker(url string, httpClient *nethttp.Client, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	retryClient := retryablehttp.NewClient()
	if httpClient != nil {
		retryClient.HTTPClient = httpClient
	}
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = &retryLogger{logger: logger}

	return &Checker{
		url:        url,
		httpClient: retryClient.StandardClient(),
		logger:     logger,
	}
}

// Latest fetches the newest version. Concurrent callers share one request.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	ch := c.group.DoChan("latest", func() (interface{}, error) {
		// Detached from any one caller so a short-lived caller does not
		// fail the request for the others.
		fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return c.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Checker) fetch(ctx context.Context) (string, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create version request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("version check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return "", fmt.Errorf("version check failed: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read version: %w", err)
	}

	latest, err := parseLatest(body)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()
	c.logger.Debug().Str("latest", latest).Msg("Latest version fetched")
	return latest, nil
}

func parseLatest(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("failed to decode version: %w", err)
		}
		text = strings.TrimSpace(payload.Version)
	}
	if text == "" || strings.ContainsAny(text, " \n") {
		return "", fmt.Errorf("invalid version %q", text)
	}
	return text, nil
}

// Cached returns the last fetched version, or "" if none was fetched yet.
func (c *Checker) Cached() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}
