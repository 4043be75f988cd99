// Package config holds the settings diskmirror is started with.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/diskmirror/internal/utils"
)

const (
	BackendYandexDisk = "yadisk"
	BackendS3         = "s3"
	BackendDir        = "dir"

	// MatchPath keys files by their slash separated path relative to the root and walks the remote tree.
	MatchPath = "path"
	// MatchName keys files by bare file name and only looks at the remote folder's direct children.
	MatchName = "name"

	DefaultInterval       = 5 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultWorkers        = 1
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".diskmirror", "config.json")
	DefaultLogFile    = filepath.Join(home, ".diskmirror", "logs", "diskmirror.log")
	DefaultLockFile   = filepath.Join(home, ".diskmirror", "diskmirror.lock")
)

// ErrConfig is wrapped by every configuration failure.
var ErrConfig = errors.New("config")

// Config is read once at process start and is read-only afterwards.
type Config struct {
	Backend   string        `json:"backend"`
	Token     string        `json:"token"`
	LocalDir  string        `json:"local_dir"`
	RemoteDir string        `json:"remote_dir"`
	Interval  time.Duration `json:"interval"`
	Match     string        `json:"match"`
	Workers   int           `json:"workers"`
	Exclude   []string      `json:"exclude"`

	APIURL         string        `json:"api_url"`
	Retries        int           `json:"retries"`
	RequestTimeout time.Duration `json:"request_timeout"`

	S3 S3Config `json:"s3"`

	LogFile  string `json:"log_file"`
	LockFile string `json:"lock_file"`
	Debug    bool   `json:"debug"`
	Path     string `json:"-"`
}

// S3Config holds the settings of the s3 backend.
type S3Config struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendYandexDisk
	}
	if c.Match == "" {
		c.Match = MatchPath
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.LockFile == "" {
		c.LockFile = DefaultLockFile
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// Validate fails fast when a required value is absent or malformed.
// On success LocalDir is resolved to an absolute path.
func (c *Config) Validate() error {
	var missing []string
	if c.LocalDir == "" {
		missing = append(missing, "local_dir")
	}
	if c.RemoteDir == "" {
		missing = append(missing, "remote_dir")
	}

	switch c.Backend {
	case BackendYandexDisk:
		if c.Token == "" {
			missing = append(missing, "token")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			missing = append(missing, "s3_bucket")
		}
	case BackendDir:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrConfig, c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: required settings missing: %s", ErrConfig, strings.Join(missing, ", "))
	}

	if c.Match != MatchPath && c.Match != MatchName {
		return fmt.Errorf("%w: match must be %q or %q, got %q", ErrConfig, MatchPath, MatchName, c.Match)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrConfig)
	}

	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrConfig)
	}

	localDir, err := utils.ResolvePath(c.LocalDir)
	if err != nil {
		return fmt.Errorf("%w: local_dir: %w", ErrConfig, err)
	}
	if !utils.DirExists(localDir) {
		return fmt.Errorf("%w: local_dir %q is not a directory", ErrConfig, localDir)
	}
	c.LocalDir = localDir

	return nil
}
