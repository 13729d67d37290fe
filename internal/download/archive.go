package download

import (
	"archive/tar"
	"archive/zip"
	"io"

	"github.com/spf13/afero"
)

// decompressedSize sums the uncompressed entry sizes of an archive,
// trying zip first, then tar. The second return value reports whether the
// file was recognized as either.
func decompressedSize(fs afero.Fs, path string) (int64, bool) {
	if size, ok := zipContentSize(fs, path); ok {
		return size, true
	}
	return tarContentSize(fs, path)
}

func zipContentSize(fs afero.Fs, path string) (int64, bool) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		return 0, false
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, false
	}
	var total int64
	var files int
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		files++
		total += int64(entry.UncompressedSize64)
	}
	if files == 0 {
		return 0, false
	}
	return total, true
}

func tarContentSize(fs afero.Fs, path string) (int64, bool) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close() //nolint:errcheck
	tr := tar.NewReader(f)
	var total int64
	var files int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, false
		}
		if hdr.Typeflag == tar.TypeReg {
			files++
			total += hdr.Size
		}
	}
	if files == 0 {
		return 0, false
	}
	return total, true
}
