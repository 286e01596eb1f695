package download

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/meigma/assetcache/internal/sizing"
)

type fileKey struct {
	major uint8
	minor uint32
}

// response is one in-flight file. buf and total are owned by the read loop.
type response struct {
	done  chan struct{}
	data  []byte
	err   error
	buf   []byte
	total int
}

func (r *response) resolve(data []byte, err error) {
	r.data, r.err = data, err
	close(r.done)
}

// session is one handshaken connection and its pending requests.
type session struct {
	nc        net.Conn
	blockSize int
	version   uint16
	logger    *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[fileKey]*response
	closed  bool
}

func newSession(nc net.Conn, blockSize int, version uint16, logger *slog.Logger) *session {
	s := &session{
		nc:        nc,
		blockSize: blockSize,
		version:   version,
		logger:    logger,
		pending:   make(map[fileKey]*response),
	}
	go s.readLoop(bufio.NewReaderSize(nc, blockSize))
	return s
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// request returns the pending response for key, sending a request packet
// only when none is already in flight.
func (s *session) request(key fileKey) (*response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if r, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return r, nil
	}
	r := &response{done: make(chan struct{})}
	s.pending[key] = r
	s.mu.Unlock()

	packet := appendRequest(make([]byte, 0, 10), key.major, key.minor, s.version)
	s.writeMu.Lock()
	_, err := s.nc.Write(packet)
	s.writeMu.Unlock()
	if err != nil {
		// fail resolves r along with everything else pending.
		s.fail(err)
	}
	return r, nil
}

func (s *session) readLoop(br *bufio.Reader) {
	err := s.readFrames(br)
	s.fail(err)
}

func (s *session) readFrames(r io.Reader) error {
	var hdr [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return err
		}
		key := fileKey{
			major: hdr[0],
			minor: binary.BigEndian.Uint32(hdr[1:]) & 0x7fffffff,
		}

		s.mu.Lock()
		resp := s.pending[key]
		s.mu.Unlock()
		if resp == nil {
			return fmt.Errorf("%w: unexpected frame for %d/%d", ErrProtocol, key.major, key.minor)
		}

		room := s.blockSize - frameHeaderSize
		if resp.buf == nil {
			var fh [fileHeaderSize]byte
			if _, err := io.ReadFull(r, fh[:]); err != nil {
				return err
			}
			size := responseSize(fh[0], binary.BigEndian.Uint32(fh[1:]))
			if err := sizing.CheckLimit(size, maxFileSize, ErrProtocol); err != nil {
				return err
			}
			resp.total = int(size) //nolint:gosec // bounded by maxFileSize
			resp.buf = make([]byte, 0, resp.total)
			resp.buf = append(resp.buf, fh[:]...)
			room -= fileHeaderSize
		}

		n := min(room, resp.total-len(resp.buf))
		start := len(resp.buf)
		resp.buf = resp.buf[:start+n]
		if _, err := io.ReadFull(r, resp.buf[start:]); err != nil {
			return err
		}

		if len(resp.buf) == resp.total {
			s.mu.Lock()
			delete(s.pending, key)
			s.mu.Unlock()
			s.logger.Debug("file received", "major", key.major, "minor", key.minor, "size", resp.total)
			resp.resolve(resp.buf, nil)
		}
	}
}

// fail tears the connection down and fails every pending request with err.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[fileKey]*response)
	s.mu.Unlock()

	_ = s.nc.Close()
	wrapped := fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	if len(pending) > 0 {
		s.logger.Warn("connection lost", "pending", len(pending), "error", err)
	}
	for _, r := range pending {
		r.resolve(nil, wrapped)
	}
}
