// Package health performs the lightweight structural check run after every backup.
package health

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// DumpHeaderToken identifies dumps written by the built-in dump writer
	DumpHeaderToken = "dbvault dump"
	// ExternalHeaderToken identifies dumps written by mysqldump
	ExternalHeaderToken = "MySQL dump"

	// MinDumpSize is the smallest raw dump considered plausible
	MinDumpSize = 100
	// TailWindow is how much of the end of a raw dump is searched for statements
	TailWindow = 4 * 1024
	// SmokeReadSize is how many bytes of the first archive entry are read
	SmokeReadSize = 512
)

var structuralKeywords = []string{"CREATE TABLE", "INSERT INTO", "DROP TABLE", "UNLOCK TABLES"}

// Verify checks the artifact at path and never panics.
// Archives are recognised by extension when compressed is set.
func Verify(path string, compressed bool) (healthy bool, details string) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			details = fmt.Sprintf("health check panicked: %v", r)
		}
	}()

	var err error
	if compressed {
		details, err = verifyArchive(path)
	} else {
		details, err = verifyDump(path)
	}
	if err != nil {
		return false, err.Error()
	}
	return true, details
}

func verifyArchive(path string) (string, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return verifyZip(path)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return verifyTar(path, func(r io.Reader) (io.Reader, func(), error) {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return gz, func() { gz.Close() }, nil
		})
	case strings.HasSuffix(lower, ".tar.zst"):
		return verifyTar(path, func(r io.Reader) (io.Reader, func(), error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return dec, dec.Close, nil
		})
	case strings.HasSuffix(lower, ".tar.lz4"):
		return verifyTar(path, func(r io.Reader) (io.Reader, func(), error) {
			return lz4.NewReader(r), func() {}, nil
		})
	}
	return "", fmt.Errorf("unsupported archive format: %s", path)
}

func verifyZip(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("cannot open zip archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return "", errors.New("archive contains no entries")
	}

	first := zr.File[0]
	rc, err := first.Open()
	if err != nil {
		return "", fmt.Errorf("cannot open entry %s: %w", first.Name, err)
	}
	defer rc.Close()

	n, err := smokeRead(rc)
	if err != nil {
		return "", fmt.Errorf("cannot read entry %s: %w", first.Name, err)
	}
	return fmt.Sprintf("zip archive ok: %d entries, read %d bytes of %s", len(zr.File), n, first.Name), nil
}

type decompressor func(io.Reader) (io.Reader, func(), error)

// verifyTar smoke-reads the first entry and then walks the rest of the stream,
// so truncation anywhere in the compressed file is detected.
func verifyTar(path string, open decompressor) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open archive: %w", err)
	}
	defer f.Close()

	r, closeFn, err := open(bufio.NewReader(f))
	if err != nil {
		return "", fmt.Errorf("cannot open archive stream: %w", err)
	}
	defer closeFn()

	tr := tar.NewReader(r)
	first, err := tr.Next()
	if errors.Is(err, io.EOF) {
		return "", errors.New("archive contains no entries")
	}
	if err != nil {
		return "", fmt.Errorf("cannot read first entry: %w", err)
	}

	n, err := smokeRead(tr)
	if err != nil {
		return "", fmt.Errorf("cannot read entry %s: %w", first.Name, err)
	}

	entries := 1
	for {
		_, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("archive is damaged after %d entries: %w", entries, err)
		}
		entries++
	}
	// drain trailing compressed data so checksum footers are validated
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("archive stream is damaged: %w", err)
	}

	return fmt.Sprintf("tar archive ok: %d entries, read %d bytes of %s", entries, n, first.Name), nil
}

func smokeRead(r io.Reader) (int, error) {
	buf := make([]byte, SmokeReadSize)
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) && n > 0 {
		return n, nil
	}
	return n, err
}

func verifyDump(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open dump: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("cannot stat dump: %w", err)
	}
	size := info.Size()
	if size < MinDumpSize {
		return "", fmt.Errorf("dump is too small (%d bytes)", size)
	}

	line, err := bufio.NewReaderSize(f, TailWindow).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("cannot read header: %w", err)
	}
	if !strings.Contains(line, DumpHeaderToken) && !strings.Contains(line, ExternalHeaderToken) {
		return "", errors.New("dump header not found on first line")
	}

	offset := size - TailWindow
	if offset < 0 {
		offset = 0
	}
	tail := make([]byte, size-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("cannot read dump tail: %w", err)
	}
	for _, kw := range structuralKeywords {
		if bytes.Contains(tail, []byte(kw)) {
			return fmt.Sprintf("dump ok: %d bytes, tail contains %s", size, kw), nil
		}
	}
	return "", errors.New("no schema or data statement found near end of dump")
}
