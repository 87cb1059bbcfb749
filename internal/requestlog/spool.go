package requestlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// TempGzipFile is one spool file holding newline-delimited JSON records,
// gzip-compressed on disk. It is written by the request logger and read
// back raw (still compressed) for upload to the Hub.
type TempGzipFile struct {
	UUID string

	path   string
	file   *os.File
	cw     *CountingWriter
	gz     *gzip.Writer
	closed bool
}

// newTempGzipFile creates a new open spool file in dir.
func newTempGzipFile(dir string) (*TempGzipFile, error) {
	id := uuid.NewString()
	path := filepath.Join(dir, id+".gz")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("requestlog: failed to create spool file: %w", err)
	}

	cw := NewCountingWriter(f)
	gz, err := gzip.NewWriterLevel(cw, gzip.BestSpeed)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("requestlog: failed to create gzip writer: %w", err)
	}

	return &TempGzipFile{
		UUID: id,
		path: path,
		file: f,
		cw:   cw,
		gz:   gz,
	}, nil
}

// WriteLine appends one newline-terminated record to the file. The gzip
// stream is flushed per line so Size reflects actual compressed bytes.
func (t *TempGzipFile) WriteLine(line []byte) error {
	if t.closed {
		return fmt.Errorf("requestlog: write to closed spool file %s", t.UUID)
	}
	if _, err := t.gz.Write(append(line, '\n')); err != nil {
		return err
	}
	return t.gz.Flush()
}

// Size returns the compressed bytes written to disk so far.
func (t *TempGzipFile) Size() int64 {
	return t.cw.Count()
}

// Close finalizes the gzip stream and closes the underlying file.
// Closing an already closed file is a no-op.
func (t *TempGzipFile) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	gzErr := t.gz.Close()
	fileErr := t.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Payload returns the raw compressed file contents for upload.
func (t *TempGzipFile) Payload() ([]byte, error) {
	if err := t.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(t.path)
}

// Delete removes the file from disk. Errors are ignored; a leaked temp
// file is preferable to failing the caller.
func (t *TempGzipFile) Delete() {
	_ = t.Close()
	_ = os.Remove(t.path)
}
