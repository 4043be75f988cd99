package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// hashChunkSize is the read size used when streaming a file through the hash.
const hashChunkSize = 4096

// FileHash calculates the hex MD5 digest of a file, reading it in fixed-size chunks.
func FileHash(fsys afero.Fs, filePath string) (string, error) {
	file, err := fsys.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return ReaderHash(file)
}

// ReaderHash calculates the hex MD5 digest of everything left in r.
func ReaderHash(r io.Reader) (string, error) {
	hash := md5.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(hash, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
