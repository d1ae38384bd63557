// Package xcrypto implements the AES-CTR encryption and PBKDF2 key
// derivation described in spec.md §4.7. The transforms themselves are
// treated as black boxes per spec.md §1 ("the AES and LZ4 primitives
// themselves... treated as black-box transforms"); this package is the thin
// wrapper spec.md §4.7 specifies around them, shaped like the pack's own
// crypto wrappers (blubskye-i2p_go/pkg/crypto/aes.go, ssungk-SOL's
// pkg/srt/encryption.go): a struct wrapping a cipher.Block, explicit
// Encrypt/Decrypt methods, explicit size-validation errors.
package xcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize selects AES-128 or AES-256, matching spec.md §6's
// key_size in {0, 128, 256}.
type KeySize int

const (
	KeySizeNone KeySize = 0
	KeySize128  KeySize = 128
	KeySize256  KeySize = 256
)

// PBKDF2Iterations and SaltSize are fixed by spec.md §4.7.
const (
	PBKDF2Iterations = 65536
	SaltSize         = 16
)

// DeriveKey derives an AES key from a pre-shared secret and a per-peer
// salt via PBKDF2-HMAC-SHA256.
func DeriveKey(secret []byte, salt [SaltSize]byte, size KeySize) ([]byte, error) {
	n := size.bytes()
	if n == 0 {
		return nil, fmt.Errorf("xcrypto: key size %d not derivable", size)
	}
	return pbkdf2.Key(secret, salt[:], PBKDF2Iterations, n, sha256.New), nil
}

func (s KeySize) bytes() int {
	switch s {
	case KeySize128:
		return 16
	case KeySize256:
		return 32
	default:
		return 0
	}
}

// Cipher wraps an AES block cipher configured for CTR mode, with the
// nonce composed per spec.md §4.7 as peer_salt‖flow_id‖sequence.
type Cipher struct {
	block cipher.Block
	salt  [SaltSize]byte
}

// New builds a Cipher from a derived key and the peer's salt.
func New(key []byte, salt [SaltSize]byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: %w", err)
	}
	return &Cipher{block: block, salt: salt}, nil
}

// nonce builds the CTR counter block: salt truncated/extended to the AES
// block size, XORed with flow_id and sequence in the low bytes so that
// every (flow_id, sequence) pair gets a unique keystream offset.
func (c *Cipher) nonce(flowID, sequence uint32) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, c.salt[:])
	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], flowID)
	binary.BigEndian.PutUint32(tail[4:8], sequence)
	for i := 0; i < 8; i++ {
		iv[aes.BlockSize-8+i] ^= tail[i]
	}
	return iv
}

// Encrypt returns p XORed with the CTR keystream for (flowID, sequence).
// CTR is its own inverse, so the same method serves both directions.
func (c *Cipher) Encrypt(flowID, sequence uint32, p []byte) []byte {
	out := make([]byte, len(p))
	stream := cipher.NewCTR(c.block, c.nonce(flowID, sequence))
	stream.XORKeyStream(out, p)
	return out
}

// Decrypt is Encrypt's inverse; CTR mode makes them identical operations,
// but callers should keep the names distinct at call sites for clarity and
// so that a future AEAD migration is a one-function change.
func (c *Cipher) Decrypt(flowID, sequence uint32, p []byte) ([]byte, error) {
	return c.Encrypt(flowID, sequence, p), nil
}
