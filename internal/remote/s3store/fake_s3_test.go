package s3store

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
)

const testBucket = "mirror"

type listContents struct {
	Key          string `xml:"Key"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Xmlns          string         `xml:"xmlns,attr"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	KeyCount       int            `xml:"KeyCount"`
	MaxKeys        int            `xml:"MaxKeys"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []listContents `xml:"Contents"`
	CommonPrefixes []listPrefix   `xml:"CommonPrefixes"`
}

// fakeS3 answers the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	server  *httptest.Server
}

func newFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeS3{objects: map[string][]byte{}}
	r := gin.New()
	r.NoRoute(f.handle)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeS3) store(t *testing.T, fsys afero.Fs) *Store {
	t.Helper()
	awsCfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIATEST", "secret", ""),
	}
	return NewWithConfig(awsCfg, &Options{
		Bucket:   testBucket,
		Endpoint: f.server.URL,
		Fs:       fsys,
	})
}

func (f *fakeS3) put(key string, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte(content)
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func etagOf(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (f *fakeS3) handle(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(c.Request.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")
	if bucket != testBucket {
		c.Status(http.StatusNotFound)
		return
	}

	switch {
	case c.Request.Method == http.MethodGet && key == "":
		f.list(c)
	case c.Request.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Header("ETag", etagOf(obj))
		c.Header("Content-Length", "0")
		c.Status(http.StatusOK)
	case c.Request.Method == http.MethodPut:
		body, _ := io.ReadAll(c.Request.Body)
		if c.Query("X-Amz-Signature") != "" && c.Request.ContentLength != int64(len(body)) {
			c.Status(http.StatusBadRequest)
			return
		}
		f.objects[key] = body
		f.puts++
		c.Header("ETag", etagOf(body))
		c.Status(http.StatusOK)
	case c.Request.Method == http.MethodDelete:
		delete(f.objects, key)
		c.Status(http.StatusNoContent)
	default:
		c.Status(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(c *gin.Context) {
	prefix := c.Query("prefix")
	delimiter := c.Query("delimiter")

	res := listResult{
		Xmlns:   "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:    testBucket,
		Prefix:  prefix,
		MaxKeys: 1000,
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 && idx < len(rest)-len(delimiter) {
				cp := prefix + rest[:idx+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, listPrefix{Prefix: cp})
				}
				continue
			}
		}
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			ETag:         etagOf(f.objects[k]),
			Size:         int64(len(f.objects[k])),
			LastModified: "2025-01-01T00:00:00.000Z",
		})
	}
	res.KeyCount = len(res.Contents) + len(res.CommonPrefixes)

	out, _ := xml.Marshal(res)
	c.Data(http.StatusOK, "application/xml", append([]byte(xml.Header), out...))
}
