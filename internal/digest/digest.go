package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Computation is an in-flight content digest. Submission blocks on Wait
// until the digest resolves; a half-computed value is never observable.
type Computation struct {
	done chan struct{}
	hex  string
}

// Start computes the SHA-256 of data on a background goroutine and
// returns immediately.
func Start(data []byte) *Computation {
	c := &Computation{done: make(chan struct{})}
	go func() {
		sum := sha256.Sum256(data)
		c.hex = hex.EncodeToString(sum[:])
		close(c.done)
	}()
	return c
}

// Wait blocks until the digest is ready and returns it as lowercase hex,
// or returns the context error if ctx is cancelled first.
func (c *Computation) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.hex, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done reports whether the digest has resolved, without blocking.
func (c *Computation) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
