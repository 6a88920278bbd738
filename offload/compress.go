package offload

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// GzipFile compresses path into path.gz and removes the original.
// On failure the original is left untouched and no partial archive remains.
func GzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	fail := func(err error) (string, error) {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("can't compress %s: %w", path, err)
	}

	zw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		return fail(err)
	}
	if fi, err := src.Stat(); err == nil {
		zw.Name = fi.Name()
		zw.ModTime = fi.ModTime()
	}
	if _, err := io.Copy(zw, src); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		return fail(err)
	}
	if err := dst.Sync(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", err
	}

	src.Close()
	if err := os.Remove(path); err != nil {
		return dstPath, err
	}
	return dstPath, nil
}
