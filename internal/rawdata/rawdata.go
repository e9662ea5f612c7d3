// Package rawdata decodes raw clickstream objects: optional gzip
// compression around newline-delimited JSON.
package rawdata

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/gzip"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 4 * 1024 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// Result is the outcome of decoding one object.
type Result struct {
	// Records are the successfully parsed lines, in file order.
	Records []types.RawRecord

	// Lines is the number of non-empty lines seen.
	Lines int

	// Skipped counts lines that were not valid JSON objects.
	Skipped int
}

// IsGzip reports whether an object is gzip-compressed, by key suffix or
// by the payload's magic bytes.
func IsGzip(key string, payload []byte) bool {
	return strings.HasSuffix(key, ".gz") || bytes.HasPrefix(payload, gzipMagic)
}

// Decompress returns the plain payload of an object.
func Decompress(key string, payload []byte) ([]byte, error) {
	if !IsGzip(key, payload) {
		return payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, perrors.NewStorageError(perrors.CodeDecompressFailed, "gzip header in "+key, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, perrors.NewStorageError(perrors.CodeDecompressFailed, "gzip body in "+key, err)
	}
	return out, nil
}

// Decode decompresses the object if needed and parses each non-empty line.
// Lines that are not JSON objects are logged at WARN and skipped.
func Decode(key string, payload []byte, logger *slog.Logger) (Result, error) {
	plain, err := Decompress(key, payload)
	if err != nil {
		return Result{}, err
	}
	return DecodeLines(key, plain, logger)
}

// DecodeLines parses newline-delimited JSON without decompression.
func DecodeLines(key string, plain []byte, logger *slog.Logger) (Result, error) {
	var res Result

	scanner := bufio.NewScanner(bytes.NewReader(plain))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		res.Lines++

		rec, err := ParseLine(line)
		if err != nil {
			res.Skipped++
			if logger != nil {
				logger.Warn("skipping malformed line",
					"key", key,
					"line", lineNo,
					"error", err,
				)
			}
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return Result{}, perrors.NewStorageError(perrors.CodeReadFailed, "reading lines of "+key, err)
	}
	return res, nil
}

// ParseLine parses one JSON object.
func ParseLine(line []byte) (types.RawRecord, error) {
	var rec types.RawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, perrors.NewParseError(perrors.CodeInvalidJSON, "invalid JSON line", err)
	}
	if rec == nil {
		return nil, perrors.NewParseError(perrors.CodeInvalidJSON, "line is not a JSON object", nil)
	}
	return rec, nil
}
