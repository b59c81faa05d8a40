package oci

import (
	"bytes"
	"compress/gzip"
	"io"
)

// GzipDeterministic compresses content such that identical input always
// produces byte-identical output: the gzip header carries no file name and a
// zero mtime.  Layer digests must be a pure function of the layer content, so
// layers are only ever built through this function.
func GzipDeterministic(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a gzipped blob.
func Gunzip(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	return content, nil
}
