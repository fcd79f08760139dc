package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashingPipe streams bytes through a SHA-256 digest while they pass
// through, so content can be hashed without buffering the payload.
type HashingPipe struct {
	r      io.Reader
	digest hash.Hash
	n      int64
}

// NewHashingPipe wraps a reader; every byte read is fed to the digest.
func NewHashingPipe(r io.Reader) *HashingPipe {
	return &HashingPipe{
		r:      r,
		digest: sha256.New(),
	}
}

func (p *HashingPipe) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.digest.Write(b[:n])
		p.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (p *HashingPipe) Sum() string {
	return hex.EncodeToString(p.digest.Sum(nil))
}

// Bytes returns how many bytes have passed through the pipe.
func (p *HashingPipe) Bytes() int64 {
	return p.n
}

// HashReader drains r through a HashingPipe and returns the digest and the
// byte count. Used to hash a merged object end-to-end in constant memory.
func HashReader(r io.Reader) (string, int64, error) {
	pipe := NewHashingPipe(r)
	if _, err := io.Copy(io.Discard, pipe); err != nil {
		return "", 0, err
	}
	return pipe.Sum(), pipe.Bytes(), nil
}
