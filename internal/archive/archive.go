// Package archive keeps the raw upstream payload of every fetch on disk for
// audit and replay, independent of the structured table store.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
)

// timestampLayout names archive files, e.g. 20250808_060000_stocks.json.
const timestampLayout = "20060102_150405"

// Archiver writes raw JSON payloads to {dir}/{api}/{timestamp}_{api}.json,
// or .json.zst when compression is enabled.
type Archiver struct {
	dir      string
	compress bool
	clock    clockwork.Clock
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCompression enables zstd compression of archived payloads.
func WithCompression(enabled bool) Option {
	return func(a *Archiver) { a.compress = enabled }
}

// WithClock sets the clock used to timestamp file names.
func WithClock(c clockwork.Clock) Option {
	return func(a *Archiver) { a.clock = c }
}

// New creates an Archiver rooted at dir.
func New(dir string, opts ...Option) *Archiver {
	a := &Archiver{dir: dir, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Save writes payload, indented, to a new timestamped file for api and
// returns its path. Files are never overwritten; a numeric suffix is added
// when two saves land in the same second.
func (a *Archiver) Save(api string, payload any) (string, error) {
	if api == "" {
		return "", errors.New("archive: api name is empty")
	}
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return "", fmt.Errorf("archive: encode %s payload: %w", api, err)
	}

	dir := filepath.Join(a.dir, api)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create directory: %w", err)
	}

	f, path, err := a.create(dir, api)
	if err != nil {
		return "", err
	}
	if err := a.writeFile(f, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// writeFile writes data to f and closes it. On failure the file is removed
// so no truncated payload is left behind.
func (a *Archiver) writeFile(f *os.File, path string, data []byte) error {
	err := a.write(f, data)
	if err != nil {
		f.Close()
		err = fmt.Errorf("archive: write %s: %w", path, err)
	} else if cerr := f.Close(); cerr != nil {
		err = fmt.Errorf("archive: close %s: %w", path, cerr)
	}
	if err != nil {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return errors.Join(err, fmt.Errorf("archive: remove %s: %w", path, rerr))
		}
	}
	return err
}

func (a *Archiver) create(dir, api string) (*os.File, string, error) {
	ext := ".json"
	if a.compress {
		ext += ".zst"
	}
	base := a.clock.Now().Format(timestampLayout) + "_" + api
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		path := filepath.Join(dir, name+ext)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("archive: create %s: %w", path, err)
		}
		return f, path, nil
	}
}

func (a *Archiver) write(w io.Writer, data []byte) error {
	if !a.compress {
		_, err := w.Write(data)
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Load reads an archived payload back into v, decompressing .zst files.
func Load(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".zst" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("archive: zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("archive: decode %s: %w", path, err)
	}
	return nil
}
