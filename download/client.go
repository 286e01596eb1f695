package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/meigma/assetcache/checksum"
)

const (
	// DefaultAttempts is the number of tries GetFile makes per file.
	DefaultAttempts = 10

	// DefaultSlowAfter is the number of failures after which GetFile waits
	// RetryDelay before each further attempt.
	DefaultSlowAfter = 5

	// DefaultRetryDelay is the wait between late attempts.
	DefaultRetryDelay = 2 * time.Second

	// MusicMajor is the major served over HTTP when a music URL is set.
	MusicMajor = 40
)

// Dialer opens the transport connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client downloads raw files from a content server. It is safe for
// concurrent use.
type Client struct {
	addr       string
	build      Build
	key        string
	language   uint8
	musicURL   string
	httpClient *nethttp.Client
	dialer     Dialer
	attempts   int
	slowAfter  int
	retryDelay time.Duration
	blockSize  int
	logger     *slog.Logger

	mu     sync.Mutex
	sess   *session
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithKey sets the 32-character session key sent in the handshake.
func WithKey(key string) Option {
	return func(c *Client) {
		c.key = key
	}
}

// WithLanguage sets the language byte sent in the handshake.
func WithLanguage(lang uint8) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithMusicURL enables HTTP downloads for the music major.
func WithMusicURL(url string) Option {
	return func(c *Client) {
		c.musicURL = url
	}
}

// WithHTTPClient sets the HTTP client used for music downloads.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithDialer sets the dialer used to open the socket.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithRetry sets the attempt budget, the number of failures before
// slowing down, and the delay used once slowed down.
func WithRetry(attempts, slowAfter int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.slowAfter = slowAfter
		c.retryDelay = delay
	}
}

// WithBlockSize sets the maximum frame size the server uses.
func WithBlockSize(n int) Option {
	return func(c *Client) {
		c.blockSize = n
	}
}

// WithLogger sets the logger for connection and retry events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the server at addr. The connection is opened
// lazily by the first request.
func New(addr string, build Build, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("download: server address is empty")
	}
	c := &Client{
		addr:       addr,
		build:      build,
		httpClient: nethttp.DefaultClient,
		dialer:     &net.Dialer{},
		attempts:   DefaultAttempts,
		slowAfter:  DefaultSlowAfter,
		retryDelay: DefaultRetryDelay,
		blockSize:  DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		return nil, fmt.Errorf("download: attempts must be > 0, got %d", c.attempts)
	}
	if c.slowAfter < 0 || c.retryDelay < 0 {
		return nil, errors.New("download: retry slow-down must be >= 0")
	}
	if c.blockSize <= frameHeaderSize+fileHeaderSize {
		return nil, fmt.Errorf("download: block size %d too small", c.blockSize)
	}
	if c.httpClient == nil {
		c.httpClient = nethttp.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// GetFile downloads the raw, still-compressed bytes of one file.
//
// A non-zero crc is checked against the CRC-32 of the downloaded bytes
// and a mismatch counts as a failed attempt. Handshake rejections are not
// retried. After every attempt fails, GetFile returns a *DownloadError.
func (c *Client) GetFile(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > c.slowAfter && c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		data, err := c.fetch(ctx, major, minor, crc)
		if err == nil && crc != 0 {
			err = checksum.Verify(data, crc)
		}
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrHandshakeRejected) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("download attempt failed",
			"major", major,
			"minor", minor,
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, &DownloadError{Major: major, Minor: minor, Attempts: c.attempts, Err: lastErr}
}

func (c *Client) fetch(ctx context.Context, major uint8, minor, crc uint32) ([]byte, error) {
	if major == MusicMajor && c.musicURL != "" {
		return c.fetchMusic(ctx, minor, crc)
	}
	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.request(fileKey{major: major, minor: minor})
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// session returns the live session, connecting if there is none.
func (c *Client) session(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sess != nil && !c.sess.isClosed() {
		return c.sess, nil
	}
	nc, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.sess = newSession(nc, c.blockSize, uint16(c.build.Minor), c.logger) //nolint:gosec // the request field is 16 bits wide
	return c.sess, nil
}

// connect dials and completes the handshake.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	c.logger.Info("connecting", "addr", c.addr)
	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	if err := c.handshake(nc); err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})
	c.logger.Info("connected", "addr", c.addr)
	return nc, nil
}

func (c *Client) handshake(nc net.Conn) error {
	if _, err := nc.Write(appendHandshake(nil, c.build, c.key, c.language)); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	var reply [1]byte
	if _, err := io.ReadFull(nc, reply[:]); err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if reply[0] != 0 {
		return &HandshakeError{Code: reply[0]}
	}
	if _, err := nc.Write(appendFollowUps(nil)); err != nil {
		return fmt.Errorf("write handshake follow-up: %w", err)
	}
	return nil
}

// Close fails pending requests and prevents new ones.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sess != nil {
		c.sess.fail(ErrClosed)
		c.sess = nil
	}
	return nil
}
