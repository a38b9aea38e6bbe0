// Package ota streams a firmware image to the peripheral in fixed-size
// chunks and reads back the final result from the status channel.
package ota

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
	"github.com/chaz8081/blecfg/internal/device"
)

const (
	// ChunkSize is the payload written per characteristic write.
	ChunkSize = 512
	// MaxImageSize is the largest image the peripheral will accept.
	MaxImageSize = 1_000_000
	// DefaultChunkDelay paces writes so the peripheral can drain its buffer.
	DefaultChunkDelay = 20 * time.Millisecond
)

var (
	// ErrImageTooLarge is returned before any write when the image exceeds MaxImageSize.
	ErrImageTooLarge = errors.New("ota: image too large")
	// ErrEmptyImage is returned before any write when the image has no bytes.
	ErrEmptyImage = errors.New("ota: image is empty")
)

// Port is the pair of channels an upload uses.
type Port interface {
	// WriteChunk writes one chunk to the OTA channel.
	WriteChunk(ctx context.Context, chunk []byte) error
	// ReadResult reads the final result from the status channel.
	ReadResult(ctx context.Context) ([]byte, error)
}

// Options configures an upload.
type Options struct {
	ChunkDelay time.Duration // delay between chunk writes (default 20ms)
}

// Check validates the image size without touching the transport.
func Check(image []byte) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	if len(image) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(image), MaxImageSize)
	}
	return nil
}

// Progress returns the percentage reported after the chunk starting at
// offset has been written.
func Progress(offset, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(offset+ChunkSize) / float64(total) * 100))
	return min(100, pct)
}

// Fingerprint returns a short hex digest identifying an image in upload history.
func Fingerprint(image []byte) string {
	sum := blake2b.Sum256(image)
	return hex.EncodeToString(sum[:8])
}

// Upload writes image to port chunk by chunk, then reads and decodes the
// result. onProgress may be nil. On failure onProgress receives 0 and the
// transfer must be restarted from the first byte.
func Upload(ctx context.Context, port Port, image []byte, opts Options, onProgress func(int)) (device.OTAResult, error) {
	if err := Check(image); err != nil {
		return device.OTAResult{}, err
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	report := func(pct int) {
		if onProgress != nil {
			onProgress(pct)
		}
	}
	fail := func(err error) (device.OTAResult, error) {
		report(0)
		return device.OTAResult{}, err
	}

	total := len(image)
	slog.Info("[OTA] starting upload", "bytes", total, "chunks", (total+ChunkSize-1)/ChunkSize)

	for offset := 0; offset < total; offset += ChunkSize {
		end := min(offset+ChunkSize, total)
		if err := port.WriteChunk(ctx, image[offset:end]); err != nil {
			slog.Error("[OTA] chunk write failed", "offset", offset, "error", err)
			return fail(fmt.Errorf("ota: write chunk at offset %d: %w", offset, err))
		}
		report(Progress(offset, total))

		if end < total && opts.ChunkDelay > 0 {
			if err := sleep(ctx, opts.ChunkDelay); err != nil {
				return fail(fmt.Errorf("ota: upload cancelled at offset %d: %w", end, err))
			}
		}
	}

	raw, err := port.ReadResult(ctx)
	if err != nil {
		return fail(fmt.Errorf("ota: read result: %w", err))
	}

	var res device.OTAResult
	env := envelope.Decode(raw)
	if err := env.Unmarshal(&res); err != nil {
		slog.Warn("[OTA] unreadable result", "payload", env.String(), "error", err)
		res = device.OTAResult{Message: env.String()}
	}
	report(100)

	slog.Info("[OTA] upload finished", "status", res.Status, "message", res.Message)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
