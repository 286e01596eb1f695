package download

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeRejected is returned when the server refuses the handshake,
	// typically because the build is outdated or the key is wrong.
	ErrHandshakeRejected = errors.New("assetcache: handshake rejected")

	// ErrDownloadFailed is returned when every download attempt failed.
	ErrDownloadFailed = errors.New("assetcache: download failed")

	// ErrConnectionClosed is returned to requests pending on a connection
	// that closed or failed.
	ErrConnectionClosed = errors.New("assetcache: connection closed")

	// ErrClosed is returned by a Client after Close.
	ErrClosed = errors.New("assetcache: client closed")

	// ErrProtocol is returned when the server sends a frame that does not
	// match any pending request or declares an impossible size.
	ErrProtocol = errors.New("assetcache: protocol violation")
)

// HandshakeError carries the server's non-zero handshake reply.
type HandshakeError struct {
	Code uint8
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("assetcache: handshake rejected with code %d", e.Code)
}

// Is reports whether target is ErrHandshakeRejected.
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

// DownloadError reports a file that could not be downloaded within the
// retry budget. Err is the last attempt's failure.
type DownloadError struct {
	Major    uint8
	Minor    uint32
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("assetcache: download %d/%d failed after %d attempts: %v", e.Major, e.Minor, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDownloadFailed.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}
