// Package service implements the upstream fetch behind the relay routes.
package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"dnb-proxy/internal/client"
	"dnb-proxy/internal/config"
	"dnb-proxy/internal/metrics"
	"dnb-proxy/internal/model"
)

// DNBURL is the only page the relay ever fetches.
const DNBURL = "https://www.dnb.no/bedrift/markets/valuta-renter/valutakurser-og-renter/" +
	"HistoriskeValutakurser/Hovedvalutaer-innevarende/hovedvalutaerdaglig-innevaerende.html"

// BrowserUserAgent identifies the relay as a desktop browser so naive bot
// filters on the upstream let it through.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT; rv:115.0) Gecko/20100101 Firefox/115.0"

var (
	// ErrUpstreamStatus is returned when the upstream answers with a non-2xx status.
	ErrUpstreamStatus = errors.New("upstream returned non-success status")
	// ErrBodyTooLarge is returned when the upstream body exceeds upstream.max_body_bytes.
	ErrBodyTooLarge = errors.New("upstream body exceeds size limit")
)

// fallbackMaxBodyBytes applies when the config leaves upstream.max_body_bytes unset.
const fallbackMaxBodyBytes = 10 * 1024 * 1024

// allowedUpstreamHosts restricts which hosts the relay will fetch from.
var allowedUpstreamHosts = map[string]bool{
	"www.dnb.no": true,
}

// RelayService fetches the fixed upstream page.
type RelayService struct {
	client  *client.UpstreamClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	target  *url.URL
}

// NewRelayService creates a RelayService targeting DNBURL.
// The metrics parameter is optional.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*RelayService, error) {
	u, err := url.Parse(DNBURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return newRelayService(c, cfg, logger, m, u), nil
}

// NewRelayServiceForTest creates a RelayService for an arbitrary target
// without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewRelayServiceForTest(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, target string) (*RelayService, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	return newRelayService(c, cfg, logger, m, u), nil
}

func newRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, u *url.URL) *RelayService {
	return &RelayService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
		target:  u,
	}
}

// Target returns the upstream URL as a string.
func (s *RelayService) Target() string {
	return s.target.String()
}

// Fetch performs one GET against the upstream page. It never retries and
// never returns an error: every failure is folded into the result.
func (s *RelayService) Fetch(ctx context.Context) model.FetchResult {
	status, body, cs, err := s.fetch(ctx)
	if err != nil {
		reason := failureReason(err)
		if s.metrics != nil {
			s.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
		}
		s.logger.Debug("upstream fetch failed", "reason", reason, "err", err)
		return model.Failed(err)
	}
	return model.Succeeded(status, body, cs)
}

func (s *RelayService) fetch(ctx context.Context) (int, []byte, string, error) {
	target := s.Target()

	header := make(http.Header)
	header.Set("User-Agent", BrowserUserAgent)
	header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Get(ctx, target, header)
	if err != nil {
		return 0, nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, nil, "", fmt.Errorf("%w: HTTP %d %s for url: %s",
			ErrUpstreamStatus, resp.StatusCode, http.StatusText(resp.StatusCode), target)
	}

	limit := s.cfg.Upstream.MaxBodyBytes
	if limit <= 0 {
		limit = fallbackMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return 0, nil, "", fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > limit {
		return 0, nil, "", fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	cs := declaredCharset(resp.Header.Get("Content-Type"))
	body, err = s.toUTF8(body, cs)
	if err != nil {
		return 0, nil, "", fmt.Errorf("decode upstream body as %s: %w", cs, err)
	}

	return resp.StatusCode, body, cs, nil
}

// toUTF8 transcodes body when the upstream declared a non-UTF-8 charset.
// Undeclared or unknown charsets pass through untouched.
func (s *RelayService) toUTF8(body []byte, cs string) ([]byte, error) {
	if cs == "" || isUTF8(cs) {
		return body, nil
	}
	r, err := charset.NewReaderLabel(cs, bytes.NewReader(body))
	if err != nil {
		s.logger.Debug("unknown upstream charset, passing body through", "charset", cs)
		return body, nil
	}
	return io.ReadAll(r)
}

// declaredCharset returns the lower-cased charset parameter of a Content-Type value.
func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func isUTF8(cs string) bool {
	return cs == "utf-8" || cs == "utf8"
}

// failureReason maps a fetch error to a bounded metrics label.
func failureReason(err error) string {
	var (
		dnsErr  *net.DNSError
		certErr *tls.CertificateVerificationError
		recErr  tls.RecordHeaderError
		netErr  net.Error
	)
	switch {
	case errors.Is(err, ErrUpstreamStatus):
		return "status"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &certErr), errors.As(err, &recErr):
		return "tls"
	default:
		return "connection"
	}
}
