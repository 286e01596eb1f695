package assetcache

import (
	"fmt"

	"github.com/meigma/assetcache/archive"
)

// Kind identifies the storage medium behind a Backend.
type Kind uint8

const (
	// KindLive fetches from the live content server.
	KindLive Kind = iota + 1
	// KindLocalDB reads a local SQLite mirror.
	KindLocalDB
	// KindHistoric reads a historical snapshot archive.
	KindHistoric
	// KindFlatFile reads raw files from a directory.
	KindFlatFile
	// KindCallback delegates to a caller-supplied function.
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindLocalDB:
		return "localdb"
	case KindHistoric:
		return "historic"
	case KindFlatFile:
		return "flatfile"
	case KindCallback:
		return "callback"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ArchiveEncoding returns how multi-file archives are packed by backends
// of this kind. Only the local mirror stores the local layout.
func (k Kind) ArchiveEncoding() (archive.Encoding, error) {
	switch k {
	case KindLocalDB:
		return archive.EncodingLocal, nil
	case KindLive, KindHistoric, KindFlatFile, KindCallback:
		return archive.EncodingNetwork, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
}

// VerifiesIndexCRC reports whether index fetches of this kind carry the
// CRC listed in the root index. Snapshot and flat-file stores are read as
// found, so their index files are fetched without one.
func (k Kind) VerifiesIndexCRC() (bool, error) {
	switch k {
	case KindLive, KindLocalDB, KindCallback:
		return true, nil
	case KindHistoric, KindFlatFile:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
}
