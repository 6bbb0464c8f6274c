// Package actionlog sends fire-and-forget usage notifications. Failures are
// logged locally and never surfaced or retried.
package actionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/acm19/picbatch/internal/convert"
	"github.com/acm19/picbatch/internal/logger"
)

// Action names.
const (
	ActionPageLoad        = "page_load"
	ActionRemoveResult    = "remove_result"
	ActionDiscardResults  = "discard_results"
	ActionDownloadArchive = "download_all_zip"
)

// UnknownOrigin is reported when no origin can be determined.
const UnknownOrigin = "unknown"

const defaultTimeout = 5 * time.Second

// ConvertFiles returns the action name for a submission of n files.
func ConvertFiles(n int) string {
	return fmt.Sprintf("convert_files_%d", n)
}

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	Action string `json:"action"`
	Origin string `json:"origin"`
}

// Notifier records named actions.
type Notifier interface {
	Log(ctx context.Context, action string)
}

// Logger posts actions to an HTTP endpoint in the background. With no endpoint it
// only logs locally. It also observes batches and records one action per submission.
type Logger struct {
	endpoint string
	client   *http.Client
	origin   string

	wg sync.WaitGroup
}

// Option configures a Logger.
type Option func(*Logger)

// WithHTTPClient sets the client used for posting.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Logger) {
		l.client = c
	}
}

// WithOrigin overrides the detected origin.
func WithOrigin(origin string) Option {
	return func(l *Logger) {
		l.origin = origin
	}
}

// New creates a Logger posting to endpoint. An empty endpoint disables posting.
func New(endpoint string, opts ...Option) *Logger {
	l := &Logger{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.origin == "" {
		l.origin = LocalIPv4()
	}
	return l
}

// Log records action. It returns immediately; the post runs in the background
// detached from ctx cancellation.
func (l *Logger) Log(ctx context.Context, action string) {
	logger.Info("Action", "action", action, "origin", l.origin)
	if l.endpoint == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.post(ctx, Payload{Action: action, Origin: l.origin}); err != nil {
			logger.Warn("Failed to send action", "action", action, "error", err)
		}
	}()
}

// Wait blocks until every background post has finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// ItemSettled implements convert.Observer.
func (l *Logger) ItemSettled(convert.ItemEvent) {}

// BatchSettled implements convert.Observer by recording the submission size.
func (l *Logger) BatchSettled(e convert.BatchEvent) {
	l.Log(context.Background(), ConvertFiles(e.Admitted+e.Rejected))
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host, or UnknownOrigin.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Debug("Failed to list interface addresses", "error", err)
		return UnknownOrigin
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return UnknownOrigin
}
