// Package retry wraps broker reads in exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type Client struct {
	logger logrus.FieldLogger
	config Config
}

// NewClient sanitizes config field by field against DefaultConfig.
func NewClient(logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		c := config[0]
		if c.MaxRetries >= 0 {
			cfg.MaxRetries = c.MaxRetries
		}
		if c.InitialBackoff > 0 {
			cfg.InitialBackoff = c.InitialBackoff
		}
		if c.MaxBackoff > 0 {
			cfg.MaxBackoff = c.MaxBackoff
		}
		if c.Timeout > 0 {
			cfg.Timeout = c.Timeout
		}
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{logger: logger, config: cfg}
}

// Config returns the sanitized settings.
func (c *Client) Config() Config {
	return c.config
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.InitialBackoff
	exp.MaxInterval = c.config.MaxBackoff
	exp.Multiplier = 1.5
	exp.RandomizationFactor = 0.25
	exp.MaxElapsedTime = 0 // bounded by ctx timeout and MaxRetries
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.config.MaxRetries)), ctx)
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// retry budget or timeout is exhausted.
func Do[T any](ctx context.Context, c *Client, name string, op func(ctx context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(opCtx)
		if err == nil {
			return v, nil
		}
		if !c.isTransientError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt,
			"wait":      wait,
		}).WithError(err).Warn("transient error, retrying")
	}

	v, err := backoff.RetryNotifyWithData(operation, c.newBackOff(opCtx), notify)
	if err != nil {
		if ctxErr := opCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return v, fmt.Errorf("%s: %w (after %d attempts: %v)", name, ctxErr, attempt, err)
		}
		return v, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
	}
	return v, nil
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
