package filesync

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds the token bucket burst so a single
// Read never reserves an unreasonable number of tokens at once.
const maxBurstSize = 256 * 1024

// ThrottledReader wraps a source reader with a token-bucket rate limit,
// used to cap upload bandwidth during SyncFile without touching the
// chunking logic itself.
type ThrottledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader caps reads from r to bytesPerSec bytes/second. A
// non-positive bytesPerSec disables throttling and returns r unchanged.
func NewThrottledReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &ThrottledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tr *ThrottledReader) Read(p []byte) (int, error) {
	if len(p) > tr.limiter.Burst() {
		p = p[:tr.limiter.Burst()]
	}
	n, err := tr.r.Read(p)
	if n > 0 {
		if waitErr := tr.limiter.WaitN(tr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
