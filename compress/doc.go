// Package compress decodes the tagged container that wraps every raw
// cache file, and encodes it for fixtures and the local mirror.
//
// The first byte of a container selects the codec:
//
//	0x00  store        [tag][u32 size][data]
//	0x01  bzip2        [tag][u32 csize][u32 usize][bzip2 stream without "BZh1"]
//	0x02  gzip         [tag][u32 csize][u32 usize][gzip or raw deflate]
//	0x03  lzma         [tag][u32 csize][u32 usize][5 property bytes][lzma stream]
//	0x5a  sqlite zlib  ["ZLB\x01"][u32 usize][zlib stream]
//
// All integers are big-endian. Bytes after the declared payload are
// ignored. Gzip payloads may be XTEA-encrypted; the encrypted region is the
// usize field plus the payload.
package compress
