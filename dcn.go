// Package dcn is the Go SDK for the DCN HTTP API. It wraps authentication
// (Ethereum-wallet login with server-issued nonces), feature and
// transformation resources, account queries and the parameterized execute
// endpoint. All logic lives behind the remote API; the SDK marshals
// requests, encodes the running-instances path segment and manages the
// bearer token pair.
package dcn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultBaseURL is the production DCN deployment.
	DefaultBaseURL = "https://api.decentralised.art"

	// EnvBaseURL overrides the base URL when no explicit one is given.
	EnvBaseURL = "DCN_API_BASE"

	headerRefreshToken = "X-Refresh-Token"

	defaultTimeout = 15 * time.Second
)

// LoginMessage returns the exact text a wallet must sign for the given
// nonce. The server re-derives this string and compares it byte for byte,
// so it is sent verbatim in the token exchange rather than re-derived from
// the nonce server-side only.
func LoginMessage(nonce string) string {
	return "Login nonce: " + nonce
}

// Signer is the external wallet capability consumed by LoginWithWallet.
// See the wallet package for the standard implementation.
type Signer interface {
	// Address returns the 0x-prefixed hex address of the key.
	Address() string
	// SignMessage signs the message with the EIP-191 personal-sign scheme
	// and returns the 65-byte signature as 0x-prefixed hex.
	SignMessage(message string) (string, error)
}

// Client talks to one DCN deployment. It owns a TokenStore for the lifetime
// of the client; authenticated calls read the access token at call time, so
// a rotation is observed by subsequent calls without re-constructing the
// client. A Client is safe for concurrent use.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      *TokenStore
	logger      *log.Logger
	autoRefresh bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. to inject a
// custom transport or TLS configuration.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTokens seeds the client with previously obtained credentials.
func WithTokens(access, refresh string) Option {
	return func(c *Client) { c.tokens.Set(access, refresh) }
}

// WithLogger attaches a logger. The SDK is silent without one.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAutoRefresh enables a single refresh-and-retry when an authenticated
// call is rejected with 401 while a refresh token is held. Off by default:
// the plain client never retries and surfaces the 401 as-is.
func WithAutoRefresh(enabled bool) Option {
	return func(c *Client) { c.autoRefresh = enabled }
}

// New builds a client for baseURL. An empty baseURL falls back to the
// DCN_API_BASE environment variable and then to DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv(EnvBaseURL)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  &TokenStore{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens exposes the client's token store.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// Logout drops the held tokens. There is no server-side logout endpoint;
// the refresh token simply stops being used.
func (c *Client) Logout() {
	c.tokens.Clear()
}

// Version reports the deployed API version. No authentication.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if err := c.call(ctx, http.MethodGet, "/version", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Nonce fetches a single-use login challenge for address. The client does
// not enforce single use; reusing a stale nonce is rejected by the server at
// the exchange step.
func (c *Client) Nonce(ctx context.Context, address string) (*NonceResponse, error) {
	var out NonceResponse
	path := "/nonce/" + url.PathEscape(address)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges a signed nonce message for a token pair. On success both
// tokens are stored wholesale; on failure the store is left untouched.
func (c *Client) Login(ctx context.Context, address, message, signature string) (*AuthResponse, error) {
	var out AuthResponse
	req := AuthRequest{Address: address, Message: message, Signature: signature}
	if err := c.roundTrip(ctx, http.MethodPost, "/auth", nil, nil, req, &out); err != nil {
		return nil, err
	}
	c.tokens.Set(out.AccessToken, out.RefreshToken)
	return &out, nil
}

// LoginWithWallet runs the full login flow: read the wallet's address, fetch
// a nonce for it, build the login message, have the wallet sign it, and
// exchange the signature for tokens.
func (c *Client) LoginWithWallet(ctx context.Context, signer Signer) (*AuthResponse, error) {
	address := signer.Address()
	nr, err := c.Nonce(ctx, address)
	if err != nil {
		return nil, err
	}
	if nr.Nonce == "" {
		return nil, ErrMissingNonce
	}
	message := LoginMessage(nr.Nonce)
	signature, err := signer.SignMessage(message)
	if err != nil {
		return nil, fmt.Errorf("sign login message: %w", err)
	}
	return c.Login(ctx, address, message, signature)
}

// Refresh rotates the access token using the stored refresh token, sent in
// the X-Refresh-Token header. Without a stored refresh token it fails with
// ErrNoRefreshToken before any network I/O. A server rejection does not
// reset the store; the caller decides whether to re-login.
func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	refresh := c.tokens.Refresh()
	if refresh == "" {
		return nil, ErrNoRefreshToken
	}
	header := http.Header{}
	header.Set(headerRefreshToken, refresh)
	var out RefreshResponse
	if err := c.roundTrip(ctx, http.MethodPost, "/refresh", nil, header, struct{}{}, &out); err != nil {
		return nil, err
	}
	c.tokens.Rotate(out.AccessToken, out.RefreshToken)
	return &out, nil
}

// AccountInfo fetches a page of the account's owned resources.
func (c *Client) AccountInfo(ctx context.Context, address string, limit, page int) (*AccountInfo, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	var out AccountInfo
	path := "/account/" + url.PathEscape(address)
	if err := c.call(ctx, http.MethodGet, path, q, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFeature fetches a feature by name. An empty version omits the version
// segment and the server resolves the latest one; otherwise the segment is
// included verbatim.
func (c *Client) GetFeature(ctx context.Context, name, version string) (*Feature, error) {
	var out Feature
	if err := c.call(ctx, http.MethodGet, versionedPath("feature", name, version), nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFeature registers a feature. The response echoes the descriptor
// plus the server-assigned version.
func (c *Client) CreateFeature(ctx context.Context, req NewFeature) (*Feature, error) {
	var out Feature
	if err := c.call(ctx, http.MethodPost, "/feature", nil, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransformation fetches a transformation by name; version semantics as
// in GetFeature.
func (c *Client) GetTransformation(ctx context.Context, name, version string) (*Transformation, error) {
	var out Transformation
	if err := c.call(ctx, http.MethodGet, versionedPath("transformation", name, version), nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransformation registers a transformation.
func (c *Client) CreateTransformation(ctx context.Context, req NewTransformation) (*Transformation, error) {
	var out Transformation
	if err := c.call(ctx, http.MethodPost, "/transformation", nil, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute runs a feature for numSamples samples. A nil or empty instances
// slice omits the third path segment entirely; otherwise the encoded pair
// list is appended as one segment.
func (c *Client) Execute(ctx context.Context, feature string, numSamples uint64, instances []RunningInstance) (*ExecuteResponse, error) {
	path := "/execute/" + url.PathEscape(feature) + "/" + strconv.FormatUint(numSamples, 10)
	if len(instances) > 0 {
		path += "/" + EncodeRunningInstances(instances)
	}
	var out ExecuteResponse
	if err := c.call(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func versionedPath(kind, name, version string) string {
	path := "/" + kind + "/" + url.PathEscape(name)
	if version != "" {
		path += "/" + url.PathEscape(version)
	}
	return path
}

// call issues one request, optionally refreshing and retrying once on 401
// when auto-refresh is enabled. Refresh itself goes through roundTrip
// directly so a rejected refresh is never retried.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, header http.Header, body, out any) error {
	err := c.roundTrip(ctx, method, path, query, header, body, out)
	if err == nil || !c.autoRefresh {
		return err
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Unauthorized() || c.tokens.Refresh() == "" {
		return err
	}
	if c.logger != nil {
		c.logger.Warn("access token rejected, refreshing", "method", method, "path", path)
	}
	if _, rerr := c.Refresh(ctx); rerr != nil {
		return err
	}
	return c.roundTrip(ctx, method, path, query, header, body, out)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, header http.Header, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	// Unauthenticated requests carry no Authorization header at all.
	if token := c.tokens.Access(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
