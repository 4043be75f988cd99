// Package yadisk implements remote.Store on top of the Yandex.Disk REST API.
package yadisk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/openmined/diskmirror/internal/version"
	"github.com/spf13/afero"
)

const (
	DefaultBaseURL  = "https://cloud-api.yandex.net/v1/disk"
	DefaultPageSize = 1000

	resourcesPath = "/resources"
	uploadPath    = "/resources/upload"

	maxErrorBody = 512
)

var ErrNoToken = errors.New("yadisk: token missing")

// Options configures a Client.
type Options struct {
	Token    string
	BaseURL  string
	Retries  int
	Timeout  time.Duration
	PageSize int
	// Fs is where local files are read from. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
}

// Client talks to the Yandex.Disk resources API.
type Client struct {
	client   *req.Client
	upload   *http.Client
	fs       afero.Fs
	pageSize int
	logger   *slog.Logger
}

var _ remote.Store = (*Client)(nil)

// New creates a Client.
func New(opts *Options) (*Client, error) {
	if opts == nil || opts.Token == "" {
		return nil, ErrNoToken
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader("Authorization", "OAuth "+opts.Token).
		SetCommonHeader("Accept", "application/json").
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.Retries > 0 {
		client.SetCommonRetryCount(opts.Retries).
			SetCommonRetryFixedInterval(1 * time.Second)
	}

	logger := utils.LoggerOrDefault(opts.Logger).With("component", "yadisk")
	logger.Debug("client created", "baseURL", baseURL, "token", utils.MaskSecret(opts.Token))

	return &Client{
		client:   client,
		upload:   &http.Client{},
		fs:       fsys,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

func (c *Client) Name() string {
	return "yadisk"
}

// EnsureFolder checks the folder and creates it when the API answers 404.
func (c *Client) EnsureFolder(ctx context.Context, folder string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", folder).
		SetQueryParam("limit", "0").
		Get(resourcesPath)
	if err != nil {
		return remote.Unavailable("check folder", folder, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.logger.Debug("remote folder exists", "path", folder)
		return nil
	case http.StatusNotFound:
	default:
		return toRemoteError(resp, "check folder", folder)
	}

	resp, err = c.client.R().
		SetContext(ctx).
		SetQueryParam("path", folder).
		Put(resourcesPath)
	if err != nil {
		return remote.Unavailable("create folder", folder, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info("remote folder created", "path", folder)
		return nil
	case http.StatusConflict:
		// created concurrently, or it already exists
		c.logger.Debug("remote folder exists", "path", folder)
		return nil
	default:
		return toRemoteError(resp, "create folder", folder)
	}
}

// ListFolder pages through the folder's children. Sub-folders are descended into when recursive is set.
func (c *Client) ListFolder(ctx context.Context, folder string, recursive bool) ([]*remote.Entry, error) {
	var entries []*remote.Entry
	if err := c.listInto(ctx, folder, "", recursive, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) listInto(ctx context.Context, folder string, relPrefix string, recursive bool, out *[]*remote.Entry) error {
	var subfolders []*remote.Entry

	for offset := 0; ; {
		var res *Resource
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"path":   folder,
				"limit":  strconv.Itoa(c.pageSize),
				"offset": strconv.Itoa(offset),
			}).
			SetSuccessResult(&res).
			Get(resourcesPath)
		if err != nil {
			return remote.Unavailable("list folder", folder, err)
		}
		if !resp.IsSuccessState() {
			return toRemoteError(resp, "list folder", folder)
		}
		if res == nil || res.Embedded == nil {
			return nil
		}

		page := res.Embedded
		for _, item := range page.Items {
			entry := toEntry(item, folder, relPrefix)
			*out = append(*out, entry)
			if entry.Kind == remote.KindFolder {
				subfolders = append(subfolders, entry)
			}
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}

	if !recursive {
		return nil
	}
	for _, sub := range subfolders {
		if err := c.listInto(ctx, sub.Path, sub.RelPath, recursive, out); err != nil {
			return err
		}
	}
	return nil
}

// GetRemoteHash returns the md5 of a remote file.
func (c *Client) GetRemoteHash(ctx context.Context, remotePath string) (string, error) {
	var res *Resource
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetQueryParam("fields", "name,path,type,md5").
		SetSuccessResult(&res).
		Get(resourcesPath)
	if err != nil {
		return "", remote.Unavailable("get hash", remotePath, err)
	}
	if !resp.IsSuccessState() {
		return "", toRemoteError(resp, "get hash", remotePath)
	}
	if res == nil || res.Type != typeFile {
		return "", fmt.Errorf("get hash %s: %w", remotePath, remote.ErrNotFound)
	}
	return res.MD5, nil
}

// Upload asks for an upload link with overwrite enabled and streams the file to it.
func (c *Client) Upload(ctx context.Context, localPath string, remotePath string) error {
	file, err := c.fs.Open(localPath)
	if err != nil {
		return &remote.LocalIOError{Path: localPath, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &remote.LocalIOError{Path: localPath, Err: err}
	}

	var link *Link
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetQueryParam("overwrite", "true").
		SetSuccessResult(&link).
		Get(uploadPath)
	if err != nil {
		return remote.Unavailable("upload link", remotePath, err)
	}
	if !resp.IsSuccessState() {
		return toRemoteError(resp, "upload link", remotePath)
	}
	if link == nil || link.Href == "" {
		return &remote.RemoteError{Op: "upload link", Path: remotePath, Status: resp.StatusCode, Message: "empty upload href"}
	}

	method := link.Method
	if method == "" {
		method = http.MethodPut
	}

	/*
		not using the req client for the transfer:
		- the href is absolute and must not carry the OAuth header
		- the body is streamed from disk with an explicit Content-Length
	*/
	contentType := utils.DetectContentType(path.Base(remotePath), file)
	httpReq, err := http.NewRequestWithContext(ctx, method, link.Href, file)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	httpReq.ContentLength = info.Size()
	if info.Size() == 0 {
		httpReq.Body = http.NoBody
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	tStart := time.Now()
	uploadResp, err := c.upload.Do(httpReq)
	if err != nil {
		return remote.Unavailable("upload", remotePath, err)
	}
	defer uploadResp.Body.Close()

	switch uploadResp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		c.logger.Debug("uploaded", "path", remotePath, "size", humanize.Bytes(uint64(info.Size())), "took", time.Since(tStart))
		return nil
	default:
		return &remote.RemoteError{Op: "upload", Path: remotePath, Status: uploadResp.StatusCode, Message: uploadResp.Status}
	}
}

// Delete removes a remote file. A 202 means the API queued an async operation and is not treated as done.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		Delete(resourcesPath)
	if err != nil {
		return remote.Unavailable("delete", remotePath, err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusAccepted:
		return &remote.RemoteError{Op: "delete", Path: remotePath, Status: resp.StatusCode, Message: "deletion queued, not confirmed"}
	default:
		return toRemoteError(resp, "delete", remotePath)
	}
}

func toEntry(item *Resource, folder string, relPrefix string) *remote.Entry {
	kind := remote.KindFile
	if item.Type == typeDir {
		kind = remote.KindFolder
	}

	entryPath := item.Path
	if entryPath == "" {
		entryPath = utils.JoinRemote(folder, item.Name)
	}

	relPath := item.Name
	if relPrefix != "" {
		relPath = relPrefix + "/" + item.Name
	}

	return &remote.Entry{
		Name:         item.Name,
		Path:         entryPath,
		RelPath:      relPath,
		Hash:         item.MD5,
		Kind:         kind,
		Size:         item.Size,
		LastModified: item.Modified,
	}
}

func toRemoteError(resp *req.Response, op string, remotePath string) error {
	rErr := &remote.RemoteError{Op: op, Path: remotePath, Status: resp.StatusCode}
	if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr != nil && apiErr.Code != "" {
		rErr.Code = apiErr.Code
		rErr.Message = apiErr.Message
		return rErr
	}

	body := resp.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	rErr.Message = body
	return rErr
}
