// Package s3store implements remote.Store on an S3 bucket. Folders are key prefixes;
// an empty `prefix/` object marks a folder created by EnsureFolder.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

const (
	uploadExpiry = 15 * time.Minute
	folderMarker = "/"
)

var ErrNoBucket = errors.New("s3store: bucket missing")

type Store struct {
	s3Client    *s3.Client
	s3Presigner *s3.PresignClient
	bucket      string
	httpClient  *http.Client
	fs          afero.Fs
	logger      *slog.Logger
}

var _ remote.Store = (*Store)(nil)

// New loads the AWS configuration and creates a Store.
func New(ctx context.Context, opts *Options) (*Store, error) {
	if opts == nil || opts.Bucket == "" {
		return nil, ErrNoBucket
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		}
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
		config.WithHTTPClient(httpClient),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithConfig(awsCfg, opts), nil
}

// NewWithConfig creates a Store from an already loaded aws.Config.
func NewWithConfig(awsCfg aws.Config, opts *Options) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &Store{
		s3Client:    client,
		s3Presigner: s3.NewPresignClient(client),
		bucket:      opts.Bucket,
		httpClient:  httpClient,
		fs:          fsys,
		logger:      utils.LoggerOrDefault(opts.Logger).With("component", "s3store", "bucket", opts.Bucket),
	}
}

func (s *Store) Name() string {
	return "s3"
}

// EnsureFolder succeeds when the marker object or any key under the prefix exists,
// otherwise it writes the marker.
func (s *Store) EnsureFolder(ctx context.Context, folder string) error {
	prefix := folderPrefix(folder)
	if prefix == "" {
		return nil
	}

	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(prefix),
	})
	if err == nil {
		s.logger.Debug("remote folder exists", "path", folder)
		return nil
	}
	if mapped := s.mapError("check folder", folder, err); !errors.Is(mapped, remote.ErrNotFound) {
		return mapped
	}

	out, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return s.mapError("check folder", folder, err)
	}
	if len(out.Contents) > 0 {
		s.logger.Debug("remote folder exists", "path", folder)
		return nil
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(prefix),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return s.mapError("create folder", folder, err)
	}

	s.logger.Info("remote folder created", "path", folder)
	return nil
}

// ListFolder lists keys under the folder prefix. Without recursive a `/` delimiter
// folds deeper keys into folder entries.
func (s *Store) ListFolder(ctx context.Context, folder string, recursive bool) ([]*remote.Entry, error) {
	prefix := folderPrefix(folder)
	input := &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var entries []*remote.Entry
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.mapError("list folder", folder, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" {
				continue
			}
			if strings.HasSuffix(rel, folderMarker) {
				rel = strings.TrimSuffix(rel, folderMarker)
				entries = append(entries, &remote.Entry{
					Name:    path.Base(rel),
					Path:    strings.TrimSuffix(key, folderMarker),
					RelPath: rel,
					Kind:    remote.KindFolder,
				})
				continue
			}
			entries = append(entries, &remote.Entry{
				Name:         path.Base(rel),
				Path:         key,
				RelPath:      rel,
				Hash:         trimETag(aws.ToString(obj.ETag)),
				Kind:         remote.KindFile,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		for _, cp := range page.CommonPrefixes {
			key := strings.TrimSuffix(aws.ToString(cp.Prefix), folderMarker)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" {
				continue
			}
			entries = append(entries, &remote.Entry{
				Name:    path.Base(rel),
				Path:    key,
				RelPath: rel,
				Kind:    remote.KindFolder,
			})
		}
	}

	return entries, nil
}

// GetRemoteHash returns the object's ETag. Single-part uploads have the MD5 as ETag.
func (s *Store) GetRemoteHash(ctx context.Context, remotePath string) (string, error) {
	out, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		return "", s.mapError("get hash", remotePath, err)
	}
	return trimETag(aws.ToString(out.ETag)), nil
}

// Upload presigns a PUT for the key (the write destination) and streams the file to it.
func (s *Store) Upload(ctx context.Context, localPath string, remotePath string) error {
	file, err := s.fs.Open(localPath)
	if err != nil {
		return &remote.LocalIOError{Path: localPath, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &remote.LocalIOError{Path: localPath, Err: err}
	}

	key := objectKey(remotePath)
	contentType := utils.DetectContentType(path.Base(key), file)

	presigned, err := s.s3Presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(o *s3.PresignOptions) {
		o.Expires = uploadExpiry
	})
	if err != nil {
		return fmt.Errorf("presign upload %s: %w", remotePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, presigned.Method, presigned.URL, file)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	for k, v := range presigned.SignedHeader {
		if strings.EqualFold(k, "Host") {
			continue
		}
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = info.Size() // presigned urls reject chunked bodies
	if info.Size() == 0 {
		req.Body = http.NoBody
	}

	tStart := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return remote.Unavailable("upload", remotePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &remote.RemoteError{Op: "upload", Path: remotePath, Status: resp.StatusCode, Message: resp.Status}
	}

	s.logger.Debug("uploaded", "key", key, "size", humanize.Bytes(uint64(info.Size())), "took", time.Since(tStart))
	return nil
}

// Delete removes the object. S3 answers 204 for missing keys as well, which counts as deleted.
func (s *Store) Delete(ctx context.Context, remotePath string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		return s.mapError("delete", remotePath, err)
	}
	return nil
}

func (s *Store) mapError(op string, remotePath string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return &remote.RemoteError{
			Op:      op,
			Path:    remotePath,
			Status:  respErr.HTTPStatusCode(),
			Message: err.Error(),
		}
	}
	return remote.Unavailable(op, remotePath, err)
}

func objectKey(p string) string {
	return strings.Trim(p, "/")
}

func folderPrefix(p string) string {
	key := objectKey(p)
	if key == "" {
		return ""
	}
	return key + folderMarker
}

func trimETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}
