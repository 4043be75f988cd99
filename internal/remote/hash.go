package remote

import (
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

// ComputeLocalHash returns the hex MD5 of a local file. MD5 matches what the backends report;
// it is a change detector, not a security primitive.
func ComputeLocalHash(fsys afero.Fs, localPath string) (string, error) {
	hash, err := utils.FileHash(fsys, localPath)
	if err != nil {
		return "", &LocalIOError{Path: localPath, Err: err}
	}
	return hash, nil
}
