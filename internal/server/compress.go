package server

import (
	"io"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressionLevel is the gzip level; zstd maps it onto its own scale.
const compressionLevel = 5

// newCompressor negotiates zstd or gzip for JSON responses. Encoders
// registered later take precedence, so zstd wins when a client accepts both.
func newCompressor() *middleware.Compressor {
	c := middleware.NewCompressor(compressionLevel, "application/json")
	c.SetEncoder("gzip", func(w io.Writer, level int) io.Writer {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil
		}
		return gw
	})
	c.SetEncoder("zstd", func(w io.Writer, level int) io.Writer {
		zw, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil
		}
		return zw
	})
	return c
}
