package pnd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	DEFAULT_PORTAL_URL = "https://pnd.cezdistribuce.cz/cezpnd2"
	DEFAULT_TIMEOUT    = 60 * time.Second
)

var errSessionExpired = errors.New("pnd: session expired")

type ClientConfig struct {
	PortalURL   string
	Credentials Credentials
	Browser     BrowserOptions
	Location    *time.Location
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client logs into the portal with a form post and downloads the interval
// export as CSV. The session cookie is reused until the portal rejects it or
// redirects to the login page. BrowserOptions are passed through unvalidated
// and unused: no browser is driven, they are only kept for Browser().
type Client struct {
	portalURL   *url.URL
	credentials Credentials
	browser     BrowserOptions
	location    *time.Location
	http        *http.Client
	logger      *zap.Logger

	mutex    sync.Mutex
	loggedIn bool
}

var _ Fetcher = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.PortalURL == "" {
		cfg.PortalURL = DEFAULT_PORTAL_URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	portalURL, err := url.Parse(strings.TrimSuffix(cfg.PortalURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("pnd: invalid portal url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	cfg.Logger.Debug("pnd client created",
		zap.String("portal", portalURL.String()),
		zap.Bool("browserRemote", cfg.Browser.Remote),
		zap.String("browserUrl", cfg.Browser.URL),
		zap.String("browserDriver", cfg.Browser.Driver))
	return &Client{
		portalURL:   portalURL,
		credentials: cfg.Credentials,
		browser:     cfg.Browser,
		location:    cfg.Location,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			// a redirect to the login page means the session is gone
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:      cfg.Logger,
	}, nil
}

func (c *Client) Browser() BrowserOptions {
	return c.browser
}

func (c *Client) FetchMeasurements(ctx context.Context, query Query) ([]Measurement, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	measurements, err := c.export(ctx, query)
	if errors.Is(err, errSessionExpired) {
		c.logger.Debug("pnd session expired, logging in again")
		c.loggedIn = false
		if err := c.ensureLogin(ctx); err != nil {
			return nil, err
		}
		measurements, err = c.export(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	return inWindow(measurements, query.From, query.To), nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}
	form := url.Values{}
	form.Set("username", c.credentials.Username)
	form.Set("password", c.credentials.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pnd login: %w", err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case isRedirect(resp.StatusCode) && redirectsToLogin(resp):
		return ErrAuth
	case isRedirect(resp.StatusCode):
		// post-login landing page
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: login status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	c.loggedIn = true
	return nil
}

func (c *Client) export(ctx context.Context, query Query) ([]Measurement, error) {
	params := url.Values{}
	params.Set("device", query.Device)
	params.Set("from", query.From.In(c.location).Format(timestampLayout))
	params.Set("to", query.To.In(c.location).Format(timestampLayout))
	params.Set("format", "csv")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/export")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pnd export: %w", err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errSessionExpired
	case isRedirect(resp.StatusCode) && redirectsToLogin(resp):
		return nil, errSessionExpired
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: export status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	measurements, err := ParseCSV(resp.Body, c.location)
	if err != nil {
		return nil, fmt.Errorf("pnd export: %w", err)
	}
	return measurements, nil
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

func redirectsToLogin(resp *http.Response) bool {
	location, err := resp.Location()
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(location.Path, "/"), "/login")
}

func (c *Client) endpoint(path string) string {
	return c.portalURL.String() + path
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
