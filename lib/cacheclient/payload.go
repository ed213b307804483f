// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/nix"
)

// Archiver serializes a store path into a byte stream.
type Archiver interface {
	Archive(ctx context.Context, storePath string, w io.Writer) error
}

// NixArchiver produces NAR serializations with nix-store --dump.
type NixArchiver struct{}

// Archive implements Archiver.
func (NixArchiver) Archive(ctx context.Context, storePath string, w io.Writer) error {
	return nix.Dump(ctx, storePath, w)
}

// ArchiverFunc adapts a function to Archiver.
type ArchiverFunc func(ctx context.Context, storePath string, w io.Writer) error

// Archive implements Archiver.
func (f ArchiverFunc) Archive(ctx context.Context, storePath string, w io.Writer) error {
	return f(ctx, storePath, w)
}

// payload is a prepared upload body spooled to a temporary file. The
// file is needed because the content length and digest are sent as
// headers, and because S3 request signing requires a seekable body.
type payload struct {
	file        *os.File
	narHash     string
	narSize     int64
	size        int64
	compression string
}

// Close removes the spool file.
func (p *payload) Close() error {
	name := p.file.Name()
	closeErr := p.file.Close()
	if err := os.Remove(name); err != nil && closeErr == nil {
		return err
	}
	return closeErr
}

// contentEncoding returns the Content-Encoding header value, or ""
// for uncompressed bodies.
func (p *payload) contentEncoding() string {
	switch p.compression {
	case config.CompressionZstd:
		return "zstd"
	case config.CompressionLZ4:
		return "lz4"
	}
	return ""
}

// countingWriter counts bytes passing through to an inner writer.
type countingWriter struct {
	inner io.Writer
	count int64
}

func (w *countingWriter) Write(data []byte) (int, error) {
	n, err := w.inner.Write(data)
	w.count += int64(n)
	return n, err
}

// preparePayload archives storePath, hashes the uncompressed archive
// with BLAKE3, compresses it, and spools the result under spoolDir.
func preparePayload(ctx context.Context, archiver Archiver, storePath, compression, spoolDir string) (*payload, error) {
	file, err := os.CreateTemp(spoolDir, "cachepush-*.nar")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	prepared := &payload{file: file, compression: compression}
	fail := func(err error) (*payload, error) {
		prepared.Close()
		return nil, err
	}

	spooled := &countingWriter{inner: file}
	compressor, err := newCompressor(compression, spooled)
	if err != nil {
		return fail(err)
	}
	hasher := blake3.New()
	archived := &countingWriter{inner: io.MultiWriter(compressor, hasher)}

	if err := archiver.Archive(ctx, storePath, archived); err != nil {
		compressor.Close()
		return fail(fmt.Errorf("archiving %s: %w", storePath, err))
	}
	if err := compressor.Close(); err != nil {
		return fail(fmt.Errorf("compressing %s: %w", storePath, err))
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewinding spool file: %w", err))
	}

	prepared.narHash = "blake3:" + hex.EncodeToString(hasher.Sum(nil))
	prepared.narSize = archived.count
	prepared.size = spooled.count
	return prepared, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(compression string, w io.Writer) (io.WriteCloser, error) {
	switch compression {
	case config.CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	case config.CompressionLZ4:
		return lz4.NewWriter(w), nil
	case config.CompressionNone, "":
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unknown compression %q", compression)
}

// fileExtension is appended to S3 object keys.
func fileExtension(compression string) string {
	switch compression {
	case config.CompressionZstd:
		return ".nar.zst"
	case config.CompressionLZ4:
		return ".nar.lz4"
	}
	return ".nar"
}
