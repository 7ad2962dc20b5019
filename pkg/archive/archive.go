// Package archive packs stored files into a zip stream without buffering it.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"time"

	"logoqr/pkg/storage"
)

// Entries is a set of opened store objects to be written to one archive.
type Entries []*storage.Object

// Open opens every named object. If any of them is missing, the ones already
// opened are closed and the error wraps storage.ErrNotExist, so callers can
// answer "not found" before a single archive byte is written.
func Open(ctx context.Context, store storage.Store, names ...string) (Entries, error) {
	entries := make(Entries, 0, len(names))
	for _, name := range names {
		obj, err := store.Open(ctx, name)
		if err != nil {
			entries.Close()
			return nil, err
		}
		entries = append(entries, obj)
	}
	return entries, nil
}

// Close releases every entry body.
func (e Entries) Close() {
	for _, obj := range e {
		_ = obj.Body.Close()
	}
}

// Write streams the entries as a zip to w using maximum deflate compression.
// Entries are named after their stored file name and are closed on return.
func Write(w io.Writer, entries Entries) error {
	defer entries.Close()

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	now := time.Now()
	for _, obj := range entries {
		header := &zip.FileHeader{
			Name:     obj.Name,
			Method:   zip.Deflate,
			Modified: now,
		}
		writer, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", obj.Name, err)
		}
		if _, err := io.Copy(writer, obj.Body); err != nil {
			return fmt.Errorf("failed to copy %s into archive: %w", obj.Name, err)
		}
	}
	return zw.Close()
}
