package assetcache

import (
	"errors"

	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/checksum"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/download"
	"github.com/meigma/assetcache/index"
)

var (
	// ErrNotFound is returned when a backend has no file for a (major, minor).
	ErrNotFound = errors.New("assetcache: file not found")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("assetcache: backend closed")

	// ErrUnknownKind is returned for a Backend whose Kind is not recognized.
	ErrUnknownKind = errors.New("assetcache: unknown backend kind")
)

// Errors re-exported from the codec packages.
var (
	// ErrMalformedIndex is returned when an index table cannot be decoded.
	ErrMalformedIndex = index.ErrMalformedIndex

	// ErrInvalidFileID is returned when a logical file id has no archive slot.
	ErrInvalidFileID = index.ErrInvalidFileID

	// ErrArchiveUnpackFailed is returned when an archive does not hold the
	// sub-files its index declares.
	ErrArchiveUnpackFailed = archive.ErrArchiveUnpackFailed

	// ErrUnknownCompressionTag is returned for an unrecognized compression tag.
	ErrUnknownCompressionTag = compress.ErrUnknownCompressionTag

	// ErrDecompressFailed is returned when a payload does not inflate.
	ErrDecompressFailed = compress.ErrDecompressFailed

	// ErrChecksumMismatch is returned when bytes do not match their CRC-32.
	ErrChecksumMismatch = checksum.ErrChecksumMismatch

	// ErrForgeInfeasible indicates a CRC forge that did not verify.
	ErrForgeInfeasible = checksum.ErrForgeInfeasible
)

// Errors re-exported from download.
var (
	// ErrHandshakeRejected is returned when the content server refuses the client.
	ErrHandshakeRejected = download.ErrHandshakeRejected

	// ErrDownloadFailed is returned when every download attempt failed.
	ErrDownloadFailed = download.ErrDownloadFailed

	// ErrConnectionClosed is returned to requests pending on a lost connection.
	ErrConnectionClosed = download.ErrConnectionClosed
)
