package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"subwatch/internal/types"
)

// ArchiveKey returns the relative archive path for a batch purged at now.
func ArchiveKey(now time.Time, batchID string) string {
	u := now.UTC()
	return fmt.Sprintf("audit/%04d/%02d/batch_%s.jsonl.zst", u.Year(), int(u.Month()), batchID)
}

func newBatchID() string { return uuid.NewString() }

// FileArchiver writes zstd-compressed JSONL batches under a root directory.
type FileArchiver struct {
	root string
}

func NewFileArchiver(root string) *FileArchiver {
	return &FileArchiver{root: root}
}

// Archive writes entries to root/key. The file is written to a temporary
// name and renamed so a crash never leaves a truncated archive behind.
func (a *FileArchiver) Archive(ctx context.Context, key string, entries []types.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(a.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return types.NewAppError(types.ErrCodeTransientIO, "failed to create archive directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return types.NewAppError(types.ErrCodeTransientIO, "failed to create archive file", err)
	}

	if err := writeJSONLZstd(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeTransientIO, "failed to write archive", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeTransientIO, "failed to close archive", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeTransientIO, "failed to finalize archive", err)
	}
	return nil
}

func writeJSONLZstd(w io.Writer, entries []types.AuditEntry) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	je := json.NewEncoder(bw)
	for i := range entries {
		if err := je.Encode(&entries[i]); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadArchive decodes an archive written by FileArchiver.
func ReadArchive(r io.Reader) ([]types.AuditEntry, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var out []types.AuditEntry
	jd := json.NewDecoder(dec)
	for jd.More() {
		var e types.AuditEntry
		if err := jd.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding archived entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
