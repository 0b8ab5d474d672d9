// Package bluesky talks to a Bluesky PDS over XRPC: it reads the home
// timeline and creates or deletes like and repost records.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/ports"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultServer = "https://bsky.social"
	// SessionKey is the secret store entry holding the persisted session.
	SessionKey = "bluesky/session"
)

var ErrNotLoggedIn = errors.New("bluesky client is not logged in")

type Options struct {
	Server     string
	Identifier string
	Password   string
	// Store persists the session across restarts. Nil disables persistence.
	Store      ports.SecretStore
	HTTPClient *http.Client
	Clock      ports.Clock
	Logger     *zap.Logger
}

// Session mirrors the JSON returned by createSession and refreshSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type Client struct {
	http       *http.Client
	server     string
	identifier string
	password   string
	store      ports.SecretStore
	clock      ports.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	session *Session
}

var (
	_ ports.FeedSource  = (*Client)(nil)
	_ ports.FeedActions = (*Client)(nil)
)

func New(opts Options) *Client {
	if opts.Server == "" {
		opts.Server = DefaultServer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		http:       opts.HTTPClient,
		server:     strings.TrimRight(opts.Server, "/"),
		identifier: opts.Identifier,
		password:   opts.Password,
		store:      opts.Store,
		clock:      opts.Clock,
		logger:     opts.Logger.Named("bluesky"),
	}
}

// xrpcError is the error body every XRPC endpoint returns.
type xrpcError struct {
	Status  int    `json:"-"`
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *xrpcError) Error() string {
	name := e.Name
	if name == "" {
		name = http.StatusText(e.Status)
	}
	if e.Message == "" {
		return fmt.Sprintf("xrpc %d: %s", e.Status, name)
	}
	return fmt.Sprintf("xrpc %d: %s: %s", e.Status, name, e.Message)
}

func isExpiredToken(err error) bool {
	var xerr *xrpcError
	if !errors.As(err, &xerr) {
		return false
	}
	return xerr.Name == "ExpiredToken" || xerr.Name == "InvalidToken" || xerr.Status == http.StatusUnauthorized
}

// Login resumes the persisted session when there is one and falls back to a
// password login otherwise.
func (c *Client) Login(ctx context.Context) error {
	if sess, ok := c.loadSession(ctx); ok {
		c.setSession(sess)
		err := c.resume(ctx)
		if err == nil {
			c.logger.Info("resumed bluesky session", zap.String("handle", sess.Handle))
			return nil
		}
		c.logger.Warn("stored bluesky session unusable, logging in again", zap.Error(err))
	}

	return c.createSession(ctx)
}

// Handle returns the account handle of the current session.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Handle
}

func (c *Client) resume(ctx context.Context) error {
	var out Session
	err := c.call(ctx, http.MethodGet, "com.atproto.server.getSession", nil, nil, &out)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session.Handle = out.Handle
	c.session.DID = out.DID
	c.mu.Unlock()
	return nil
}

func (c *Client) createSession(ctx context.Context) error {
	if c.identifier == "" || c.password == "" {
		return errors.New("bluesky identifier and password are required")
	}

	c.logger.Info("logging in to bluesky", zap.String("identifier", c.identifier))
	var sess Session
	err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", nil, map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	}, &sess, "")
	if err != nil {
		return fmt.Errorf("create bluesky session: %w", err)
	}

	c.setSession(&sess)
	c.persist(ctx, "create", &sess)
	return nil
}

func (c *Client) refreshSession(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil || current.RefreshJwt == "" {
		return ErrNotLoggedIn
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, &sess, current.RefreshJwt); err != nil {
		return fmt.Errorf("refresh bluesky session: %w", err)
	}

	c.setSession(&sess)
	c.persist(ctx, "update", &sess)
	return nil
}

func (c *Client) setSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
}

func (c *Client) accessToken() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.AccessJwt == "" {
		return "", "", ErrNotLoggedIn
	}
	return c.session.AccessJwt, c.session.DID, nil
}

func (c *Client) loadSession(ctx context.Context) (*Session, bool) {
	if c.store == nil {
		return nil, false
	}
	raw, err := c.store.Get(ctx, SessionKey)
	if err != nil {
		if !errors.Is(err, domain.ErrSecretNotFound) {
			c.logger.Warn("read stored bluesky session failed", zap.Error(err))
		}
		return nil, false
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.AccessJwt == "" {
		c.logger.Warn("stored bluesky session is malformed", zap.Error(err))
		return nil, false
	}
	return &sess, true
}

func (c *Client) persist(ctx context.Context, event string, sess *Session) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := c.store.Put(ctx, SessionKey, string(data)); err != nil {
		c.logger.Warn("persist bluesky session failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.logger.Debug("persisted bluesky session", zap.String("event", event))
}

// call performs an authenticated request and refreshes the session once when
// the access token has expired.
func (c *Client) call(ctx context.Context, method, nsid string, query url.Values, body any, out any) error {
	token, _, err := c.accessToken()
	if err != nil {
		return err
	}

	err = c.do(ctx, method, nsid, query, body, out, token)
	if !isExpiredToken(err) {
		return err
	}

	if err := c.refreshSession(ctx); err != nil {
		return err
	}
	token, _, err = c.accessToken()
	if err != nil {
		return err
	}
	return c.do(ctx, method, nsid, query, body, out, token)
}

func (c *Client) do(ctx context.Context, method, nsid string, query url.Values, body any, out any, token string) error {
	endpoint := c.server + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", nsid, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		xerr := &xrpcError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, xerr)
		return fmt.Errorf("%s: %w", nsid, xerr)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", nsid, err)
	}
	return nil
}
