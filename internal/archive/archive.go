// Package archive packs the session result directory into one compressed tarball.
//
// Archives are deterministic: entries are sorted and their headers carry no
// owner, host or compression timestamp, so packing an unchanged directory
// twice yields byte-identical files.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression formats.
const (
	Gzip = "gzip"
	Zstd = "zstd"
)

// Options controls archive creation.
type Options struct {
	Compression string
	// Prefix is the top-level directory inside the archive. Empty means the
	// base name of the source directory.
	Prefix string
	// Mode is the permission of the written archive. Zero means 0644.
	Mode fs.FileMode
}

// Summary describes a written archive.
type Summary struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
	Bytes int64    `json:"bytes"`
}

// Create packs every regular file below dir into dest. A directory without
// files still produces a valid, empty archive. dest is replaced atomically;
// on error no partial archive is left behind.
func Create(dir, dest string, opts Options) (Summary, error) {
	sum := Summary{Path: dest}

	info, err := os.Stat(dir)
	if err != nil {
		return sum, fmt.Errorf("result directory: %w", err)
	}
	if !info.IsDir() {
		return sum, fmt.Errorf("result directory %s is not a directory", dir)
	}

	files, err := collect(dir)
	if err != nil {
		return sum, err
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = filepath.Base(filepath.Clean(dir))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return sum, fmt.Errorf("failed to create temporary archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp, dir, prefix, files, opts.Compression); err != nil {
		return sum, err
	}
	if err := tmp.Sync(); err != nil {
		return sum, fmt.Errorf("failed to sync archive: %w", err)
	}

	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := tmp.Chmod(mode); err != nil {
		return sum, fmt.Errorf("failed to set archive mode: %w", err)
	}

	st, err := tmp.Stat()
	if err != nil {
		return sum, err
	}
	if err := tmp.Close(); err != nil {
		return sum, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return sum, fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true

	sum.Files = files
	sum.Bytes = st.Size()
	return sum, nil
}

// collect returns the slash-separated relative paths of regular files below dir, sorted.
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan result directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func write(w io.Writer, dir, prefix string, files []string, compression string) error {
	cw, err := compressor(w, compression)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)

	dirs := map[string]bool{}
	if err := addDir(tw, prefix); err != nil {
		return err
	}
	for _, rel := range files {
		// Parent directories first, each once.
		parts := strings.Split(rel, "/")
		for i := 1; i < len(parts); i++ {
			d := strings.Join(parts[:i], "/")
			if !dirs[d] {
				dirs[d] = true
				if err := addDir(tw, prefix+"/"+d); err != nil {
					return err
				}
			}
		}
		if err := addFile(tw, filepath.Join(dir, filepath.FromSlash(rel)), prefix+"/"+rel); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s stream: %w", compression, err)
	}
	return nil
}

func compressor(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case "", Gzip:
		// A zero ModTime and empty Name keep the gzip header reproducible.
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func addDir(tw *tar.Writer, name string) error {
	return tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name + "/",
		Mode:     0o755,
		Format:   tar.FormatPAX,
	})
}

func addFile(tw *tar.Writer, path, name string) error {
	//nolint:gosec // G304: Path comes from walking the result directory.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     st.Size(),
		Mode:     0o644,
		ModTime:  st.ModTime().UTC().Truncate(1e9),
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}

	// Copy exactly Size bytes; a collector still appending cannot corrupt the stream.
	if _, err := io.CopyN(tw, f, st.Size()); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}
