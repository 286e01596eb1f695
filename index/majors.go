package index

import (
	"errors"
	"fmt"
)

// Majors with special handling in the cache layer.
const (
	MajorFramemaps     uint8 = 0
	MajorConfig        uint8 = 2
	MajorInterfaces    uint8 = 3
	MajorMapsquares    uint8 = 5
	MajorOldModels     uint8 = 7
	MajorSprites       uint8 = 8
	MajorClientscript  uint8 = 12
	MajorSounds        uint8 = 14
	MajorObjects       uint8 = 16
	MajorEnums         uint8 = 17
	MajorNPCs          uint8 = 18
	MajorItems         uint8 = 19
	MajorSequences     uint8 = 20
	MajorSpotanims     uint8 = 21
	MajorStructs       uint8 = 22
	MajorMaterials     uint8 = 26
	MajorParticles     uint8 = 27
	MajorMusic         uint8 = 40
	MajorModels        uint8 = 47
	MajorFrames        uint8 = 48
	MajorTexturesDDS   uint8 = 52
	MajorTexturesPNG   uint8 = 53
	MajorTexturesBMP   uint8 = 54
	MajorTexturesKTX   uint8 = 55
	MajorSkeletalAnims uint8 = 56
	MajorAchievements  uint8 = 57
	MajorIndex         uint8 = 255
)

// Unbounded marks a major stored as one archive holding every file.
const Unbounded uint32 = 0

// MaxMinor is the largest archive minor an index may declare.
const MaxMinor uint32 = 1<<23 - 1

// ErrInvalidFileID is returned when a (minor, subid) pair has no logical id.
var ErrInvalidFileID = errors.New("assetcache: invalid file id")

var archiveSizes = map[uint8]uint32{
	MajorObjects:      256,
	MajorEnums:        256,
	MajorNPCs:         128,
	MajorItems:        256,
	MajorSequences:    128,
	MajorSpotanims:    256,
	MajorStructs:      32,
	MajorAchievements: 128,
	MajorMaterials:    Unbounded,
}

// ArchiveSize returns the number of logical files packed per archive of
// major. Majors not listed store one file per archive. [Unbounded] means
// every file lives in minor 0.
func ArchiveSize(major uint8) uint32 {
	if size, ok := archiveSizes[major]; ok {
		return size
	}
	return 1
}

// FileIDToArchiveMinor maps a logical file id to its archive minor and the
// sub-file id inside that archive.
func FileIDToArchiveMinor(major uint8, fileID uint32) (minor, subID uint32) {
	size := ArchiveSize(major)
	if size == Unbounded {
		return 0, fileID
	}
	return fileID / size, fileID % size
}

// ArchiveToFileID is the inverse of [FileIDToArchiveMinor].
func ArchiveToFileID(major uint8, minor, subID uint32) (uint32, error) {
	size := ArchiveSize(major)
	if size == Unbounded {
		if minor != 0 {
			return 0, fmt.Errorf("%w: major %d is a single archive, got minor %d", ErrInvalidFileID, major, minor)
		}
		return subID, nil
	}
	if subID >= size {
		return 0, fmt.Errorf("%w: subid %d out of range for archive size %d", ErrInvalidFileID, subID, size)
	}
	id := uint64(minor)*uint64(size) + uint64(subID)
	if id > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: major %d minor %d overflows", ErrInvalidFileID, major, minor)
	}
	return uint32(id), nil
}
