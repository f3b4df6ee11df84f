package notify

import (
	"fmt"
	"net/http"

	"sockproxyd/config"
	"sockproxyd/internal/metrics"
	"sockproxyd/internal/retry"
	"sockproxyd/util"
)

// Client issues the fire-and-forget notification GET described in
// spec §4.3, guarded by a circuit breaker (SPEC_FULL §10.3) so a dead
// controller cannot add latency to every subsequent drain.
type Client struct {
	http      *http.Client
	logger    *util.Logger
	metrics   *metrics.Collector
	breaker   *retry.CircuitBreaker
	userAgent string
}

// NewClient returns a notification client with the spec's 5-second
// total budget, redirects disabled, and Connection: close.
func NewClient(logger *util.Logger, collector *metrics.Collector) *Client {
	return &Client{
		http: &http.Client{
			Timeout: config.NotifyHTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    logger,
		metrics:   collector,
		breaker:   retry.NewCircuitBreaker(retry.DefaultCircuitBreakerConfig()),
		userAgent: fmt.Sprintf("sockproxyd-%d", config.ProtocolVersion),
	}
}

// Dispatch issues the GET at reqURL and discards the body. It never
// propagates an error to the caller — failures are logged and
// counted, matching spec §7's "never fatal" policy for
// NotificationFailure.
func (c *Client) Dispatch(reqURL string) {
	status, err := c.doRequestBreaker(reqURL)
	if err != nil {
		if status == http.StatusUnauthorized {
			c.logger.Warn("notify %1: status %2 (action/service undefined on controller)", reqURL, status)
		} else {
			c.logger.Info("notify %1: %2", reqURL, err)
		}
		c.metrics.NotifyFailure()
		return
	}
	c.metrics.NotifySuccess()
}

// doRequestBreaker runs doRequest through the circuit breaker and
// surfaces the status code alongside the error so Dispatch can pick a
// log level without re-parsing the error text.
func (c *Client) doRequestBreaker(reqURL string) (int, error) {
	var status int
	err := c.breaker.Execute(func() error {
		s, err := c.doRequest(reqURL)
		status = s
		return err
	})
	return status, err
}

func (c *Client) doRequest(reqURL string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Close = true

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
