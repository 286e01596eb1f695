package download

import (
	"io"
	"net"
	"sync"
	"testing"

	"github.com/meigma/assetcache/internal/wire"
)

// fakeServer speaks the server side of the protocol on a loopback port.
type fakeServer struct {
	ln        net.Listener
	blockSize int
	reply     byte

	// handle answers one request; returning false drops the connection.
	// The default writes files[key] as frames.
	handle func(conn net.Conn, key fileKey) bool

	mu        sync.Mutex
	files     map[fileKey][]byte
	requests  []fileKey
	handshake []byte
	followUps []byte
	conns     int
	received  chan fileKey
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		ln:        ln,
		blockSize: DefaultBlockSize,
		files:     make(map[fileKey][]byte),
		received:  make(chan fileKey, 64),
	}
	t.Cleanup(func() { _ = ln.Close() })
	go s.acceptLoop()
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) setFile(major uint8, minor uint32, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{major: major, minor: minor}] = raw
}

func (s *fakeServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()

	hs := make([]byte, 43)
	if _, err := io.ReadFull(conn, hs); err != nil {
		return
	}
	s.mu.Lock()
	s.handshake = hs
	reply := s.reply
	s.mu.Unlock()
	if _, err := conn.Write([]byte{reply}); err != nil || reply != 0 {
		return
	}

	follow := make([]byte, 12)
	if _, err := io.ReadFull(conn, follow); err != nil {
		return
	}
	s.mu.Lock()
	s.followUps = follow
	s.mu.Unlock()

	req := make([]byte, 10)
	for {
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		r := wire.NewReader(req)
		r.U8()
		key := fileKey{major: r.U8(), minor: r.U32()}

		s.mu.Lock()
		s.requests = append(s.requests, key)
		handle := s.handle
		s.mu.Unlock()
		select {
		case s.received <- key:
		default:
		}

		if handle == nil {
			handle = s.writeFile
		}
		if !handle(conn, key) {
			return
		}
	}
}

func (s *fakeServer) writeFile(conn net.Conn, key fileKey) bool {
	s.mu.Lock()
	raw, ok := s.files[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	for _, f := range frames(key, raw, s.blockSize) {
		if _, err := conn.Write(f); err != nil {
			return false
		}
	}
	return true
}

// frames splits a raw response into protocol frames. Continuation frames
// set the high bit of the minor, which clients must ignore.
func frames(key fileKey, raw []byte, blockSize int) [][]byte {
	room := blockSize - frameHeaderSize
	var out [][]byte
	for off := 0; off < len(raw); {
		n := min(room, len(raw)-off)
		minor := key.minor
		if off > 0 {
			minor |= 0x80000000
		}
		f := wire.AppendU32([]byte{key.major}, minor)
		f = append(f, raw[off:off+n]...)
		out = append(out, f)
		off += n
	}
	return out
}

// rawFile builds a response payload with a valid size header. The body
// need not be a real compressed stream.
func rawFile(tag uint8, body []byte) []byte {
	out := wire.AppendU32([]byte{tag}, uint32(len(body))) //nolint:gosec // test sizes are small
	out = append(out, body...)
	if tag != 0 {
		out = wire.AppendU32(out, uint32(len(body))) //nolint:gosec // test sizes are small
	}
	return out
}
