// Package crypto implements the NCCH encryption layer: AES-128-CTR stream
// decryption addressable at arbitrary byte offsets, and the
// version-dependent derivation of per-region (key, counter) contexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Context is one (key, initial counter) pair covering a single logical
// encrypted region. Contexts are plain values: derived once per load and
// consumed only by the decrypt calls for their region.
type Context struct {
	Key [16]byte
	CTR [16]byte
}

// counterAt returns the CTR counter block for the given block index within
// the stream, treating the 16-byte counter as a big-endian integer.
func (c Context) counterAt(block uint64) [16]byte {
	ctr := c.CTR
	for i := 15; i >= 0 && block > 0; i-- {
		sum := uint64(ctr[i]) + (block & 0xFF)
		ctr[i] = byte(sum)
		block = block>>8 + sum>>8
	}
	return ctr
}

// Decrypt transforms buf in place as the bytes found at streamOffset within
// the context's logical stream. CTR mode is position addressable: the
// counter is advanced to streamOffset's block and the keystream bytes before
// the offset within that block are discarded, so sections living at nonzero
// offsets decrypt correctly with their region's shared context.
func (c Context) Decrypt(streamOffset uint64, buf []byte) error {
	blockCipher, err := aes.NewCipher(c.Key[:])
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}

	iv := c.counterAt(streamOffset / aes.BlockSize)
	stream := cipher.NewCTR(blockCipher, iv[:])

	if skip := streamOffset % aes.BlockSize; skip != 0 {
		var discard [aes.BlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}

	stream.XORKeyStream(buf, buf)
	return nil
}
