package compress

import (
	"encoding/binary"

	"golang.org/x/crypto/xtea"
)

// Key is a 128-bit XTEA key as four 32-bit words.
type Key [4]uint32

// IsZero reports whether every word of k is zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) cipher() *xtea.Cipher {
	var raw [16]byte
	for i, w := range k {
		binary.BigEndian.PutUint32(raw[i*4:], w)
	}
	c, err := xtea.NewCipher(raw[:])
	if err != nil {
		// NewCipher only rejects keys that are not 16 bytes long.
		panic("compress: xtea key: " + err.Error())
	}
	return c
}

// Decrypt decrypts buf in place, 8 bytes at a time. A trailing partial
// block shorter than 8 bytes is left unchanged.
func Decrypt(buf []byte, key Key) {
	c := key.cipher()
	for i := 0; i+xtea.BlockSize <= len(buf); i += xtea.BlockSize {
		c.Decrypt(buf[i:i+xtea.BlockSize], buf[i:i+xtea.BlockSize])
	}
}

// Encrypt is the inverse of Decrypt.
func Encrypt(buf []byte, key Key) {
	c := key.cipher()
	for i := 0; i+xtea.BlockSize <= len(buf); i += xtea.BlockSize {
		c.Encrypt(buf[i:i+xtea.BlockSize], buf[i:i+xtea.BlockSize])
	}
}
