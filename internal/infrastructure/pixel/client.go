// Package pixel delivers metric pixels over HTTP.
package pixel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/removalhq/broker-protection-backend/internal/domain/errors"
	"github.com/removalhq/broker-protection-backend/internal/infrastructure/config"
)

// Client fires anonymous metric pixels as GET requests against the
// collection endpoint. Requests are rate limited so a burst of report
// groups cannot flood the endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(cfg *config.PixelConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Fire delivers one pixel. The pixel name becomes the last path segment and
// the parameters become the query string. Pixels carry no user identifiers.
func (c *Client) Fire(ctx context.Context, kind string, params map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return errors.NewValidationError("INVALID_ENDPOINT", err.Error())
	}
	u = u.JoinPath(kind)

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.NewInternalError(err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewExternalError("pixel", err.Error()).WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewExternalError("pixel",
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, kind))
	}

	c.logger.Debug("pixel delivered",
		zap.String("kind", kind),
		zap.Int("params", len(params)),
	)
	return nil
}
