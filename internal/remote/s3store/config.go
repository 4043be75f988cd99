package s3store

import (
	"log/slog"
	"net/http"

	"github.com/spf13/afero"
)

// Options configures a Store. Endpoint switches to path-style addressing for MinIO and friends.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// HTTPClient is used both by the SDK and for presigned uploads.
	HTTPClient *http.Client
	Fs         afero.Fs
	Logger     *slog.Logger
}
