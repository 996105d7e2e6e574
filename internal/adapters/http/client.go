package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/endpoint"
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Client defaults.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultRetryMax = 3
)

// ClientConfig configures the control channel client.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
}

// Client calls a tproxyctl daemon over HTTP. Connection errors and
// transient 5xx replies are retried. startAll and stopAll are not retried
// after a timeout: the daemon is still driving the first attempt and a
// retry would only observe the in-flight phase.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient creates a client for the daemon at cfg.BaseURL.
func NewClient(cfg ClientConfig, logger log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
	}
}

// Call invokes a channel method. The result is nil for acknowledgements.
// The client timeout must cover the daemon's driver timeout for startAll
// and stopAll, which reply only once the driver has finished.
func (c *Client) Call(ctx context.Context, method string) (*bool, error) {
	switch method {
	case endpoint.MethodStartAll.String(), endpoint.MethodStopAll.String():
		ctx = context.WithValue(ctx, noTimeoutRetryKey{}, true)
	}
	var out channelResponse
	if err := c.do(ctx, http.MethodPost, ChannelPath+"/"+url.PathEscape(method), &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// State fetches the daemon's current snapshot.
func (c *Client) State(ctx context.Context) (ports.Record, error) {
	var out ports.Record
	if err := c.do(ctx, http.MethodGet, StatePath, &out); err != nil {
		return ports.Record{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := retryablehttp.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps an error reply back onto the domain sentinels.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	switch resp.StatusCode {
	case http.StatusNotImplemented:
		return domain.ErrUnsupportedRequest
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrResetRequired, msg)
	case http.StatusBadGateway:
		return &domain.DriverError{Op: "remote", Err: errors.New(msg)}
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}

// noTimeoutRetryKey marks requests whose timeouts must not be retried.
type noTimeoutRetryKey struct{}

// checkRetry retries connection errors and transient 5xx replies.
// 501 and 502 carry a definite answer from the controller.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil && ctx.Value(noTimeoutRetryKey{}) != nil && isTimeout(err) {
		return false, err
	}
	if err == nil && resp != nil {
		switch resp.StatusCode {
		case http.StatusNotImplemented, http.StatusBadGateway:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// leveledLogger adapts log.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger log.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Error(msg, kvFields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debug(msg, kvFields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug(msg, kvFields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn(msg, kvFields(kv)...) }

func kvFields(kv []interface{}) []log.Field {
	fields := make([]log.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, log.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
