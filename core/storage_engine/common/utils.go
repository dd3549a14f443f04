package common

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

var xzNewWriter = xz.NewWriter

// CopyOptions tunes CopyThrottled.
type CopyOptions struct {
	// RateBytesPerSec caps read throughput; 0 means unlimited.
	RateBytesPerSec int64
	// Compress writes the destination as an xz stream.
	Compress bool
}

// CopyThrottled copies srcPath to dstPath in chunks, waiting on a token bucket
// between chunks. It returns the hex BLAKE3 digest of the source bytes. The
// destination is synced before returning; on error it is removed.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, opts CopyOptions) (digest string, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open dst: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close dst: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dstPath)
		}
	}()

	var out io.Writer = dst
	var zw *xz.Writer
	if opts.Compress {
		zw, err = xzNewWriter(dst)
		if err != nil {
			return "", fmt.Errorf("xz writer: %w", err)
		}
		out = zw
	}

	var limiter *rate.Limiter
	if opts.RateBytesPerSec > 0 {
		burst := chunkSize
		if opts.RateBytesPerSec < int64(burst) {
			burst = int(opts.RateBytesPerSec)
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateBytesPerSec), burst)
	}

	sum := blake3.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, rerr := src.Read(buf[:limiterChunk(limiter)])
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return "", fmt.Errorf("rate limiter error: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return "", err
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return "", fmt.Errorf("read error: %w", rerr)
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("xz close: %w", err)
		}
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("sync error: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// limiterChunk keeps single reads within the limiter's burst.
func limiterChunk(l *rate.Limiter) int {
	if l == nil || l.Burst() >= chunkSize {
		return chunkSize
	}
	return l.Burst()
}

// FileDigest returns the hex BLAKE3 digest of the file at path, decompressing
// it first when compressed is set.
func FileDigest(path string, compressed bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		zr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("xz reader: %w", err)
		}
		r = zr
	}
	sum := blake3.New()
	if _, err := io.Copy(sum, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
