// Package fetch talks to the upstream weather origin on behalf of the
// offline worker.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ResponseType classifies a network response the way the cache gate needs
type ResponseType string

const (
	// TypeBasic is a same-origin response
	TypeBasic ResponseType = "basic"
	// TypeCORS is a response served from another origin
	TypeCORS ResponseType = "cors"
)

// Client handles requests to the upstream origin
type Client struct {
	Origin     *url.URL
	UserAgent  string
	HTTPClient *http.Client
}

// NewClient creates a client for the given origin URL
func NewClient(origin, userAgent string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q: scheme and host required", origin)
	}
	if userAgent == "" {
		userAgent = "wthr-offline/1.0 (contact@wthr.lol)"
	}

	return &Client{
		Origin:    &url.URL{Scheme: u.Scheme, Host: u.Host},
		UserAgent: userAgent,
		HTTPClient: &http.Client{
			Timeout:       timeout,
			CheckRedirect: manualRedirect,
		},
	}, nil
}

// manualRedirect hands 3xx responses back to the caller so the page sees
// the redirect and the address it lands on
func manualRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Following returns a copy of c that follows redirects. It shares c's
// transport and timeout.
func (c *Client) Following() *Client {
	hc := *c.HTTPClient
	hc.CheckRedirect = nil
	return &Client{Origin: c.Origin, UserAgent: c.UserAgent, HTTPClient: &hc}
}

// Resolve turns an origin-relative path into an absolute URL string
func (c *Client) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.Origin.String() + path
	}
	return c.Origin.ResolveReference(ref).String()
}

// Do sends req over the network
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return c.HTTPClient.Do(req)
}

// TypeOf reports whether resp was served by the client's origin. After
// followed redirects the final request URL decides.
func (c *Client) TypeOf(resp *http.Response) ResponseType {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return TypeCORS
	}
	if SameOrigin(c.Origin, resp.Request.URL) {
		return TypeBasic
	}
	return TypeCORS
}

// Basic reports whether resp is a same-origin response
func (c *Client) Basic(resp *http.Response) bool {
	return c.TypeOf(resp) == TypeBasic
}

// Probe checks whether the origin is reachable. Any HTTP response counts.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Origin.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SameOrigin compares scheme, host and port
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(hostPort(a), hostPort(b))
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return u.Hostname() + ":" + port
}

// IsNavigation reports whether r loads a full HTML document
func IsNavigation(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	// Older clients send neither header
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
