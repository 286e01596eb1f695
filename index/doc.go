// Package index decodes and encodes the cache's reference tables.
//
// Every major has an index archive stored at (255, major) that lists its
// archive groups; the root index at (255, 255) lists the checksum and
// version of every major's index archive. Both decode into sparse slices
// of [CacheIndex] where a nil element is a minor that was never allocated.
//
// The package also owns the mapping between caller-facing logical file
// ids and the (minor, subid) pairs the storage layer works with.
package index
