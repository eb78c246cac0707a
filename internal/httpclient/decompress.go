package httpclient

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// Decompressor decodes a response body for one Content-Encoding value.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

var decompressorRegistry = map[string]Decompressor{
	"gzip":    gzipDecompressor{},
	"br":      brotliDecompressor{},
	"deflate": deflateDecompressor{},
	"zstd":    zstdDecompressor{},
}

// ReadBody reads and closes the response body, decoding it according to the
// Content-Encoding header. The stealth transport bypasses net/http's
// transparent gzip handling, so trackers behind Cloudflare frequently hand
// back brotli or gzip bodies that still need decoding here.
func ReadBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.Uncompressed {
		return data, nil
	}
	return DecodeBody(resp.Header.Get("Content-Encoding"), data)
}

// DecodeBody decompresses data according to the Content-Encoding header
// value. Unknown encodings and decode failures return the original bytes so
// the caller can still pattern-match on whatever came over the wire.
func DecodeBody(contentEncoding string, data []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	if encoding == "" || encoding == "identity" || len(data) == 0 {
		return data, nil
	}

	decompressor, ok := decompressorRegistry[encoding]
	if !ok {
		logrus.Warnf("No decompressor registered for encoding '%s', returning original data", encoding)
		return data, nil
	}

	decoded, err := decompressor.Decompress(data)
	if err != nil {
		logrus.WithError(err).Warnf("Failed to decompress '%s' body, returning original data", encoding)
		return data, nil
	}
	return decoded, nil
}

type gzipDecompressor struct{}

func (gzipDecompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

type brotliDecompressor struct{}

func (brotliDecompressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

type deflateDecompressor struct{}

func (deflateDecompressor) Decompress(data []byte) ([]byte, error) {
	// Servers send both zlib-wrapped and raw DEFLATE under this name.
	if len(data) > 0 && data[0] == 0x78 {
		data = data[2:]
	}
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	return io.ReadAll(reader)
}

type zstdDecompressor struct{}

func (zstdDecompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
