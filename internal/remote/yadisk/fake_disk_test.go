package yadisk

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

const testToken = "y0_test_token"

// fakeDisk is an in-memory stand-in for the resources API.
type fakeDisk struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	calls    map[string]int
	failList int // status returned by folder listings when non-zero
	server   *httptest.Server
}

func newFakeDisk(t *testing.T) *fakeDisk {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fd := &fakeDisk{
		files: map[string][]byte{},
		dirs:  map[string]bool{"disk:": true},
		calls: map[string]int{},
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.FullPath() != "/upload-target" && c.GetHeader("Authorization") != "OAuth "+testToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Code: "UnauthorizedError", Message: "Не авторизован."})
			return
		}
		fd.mu.Lock()
		fd.calls[c.Request.Method+" "+c.FullPath()]++
		fd.mu.Unlock()
		c.Next()
	})
	r.GET("/resources", fd.getResource)
	r.PUT("/resources", fd.createFolder)
	r.DELETE("/resources", fd.deleteResource)
	r.GET("/resources/upload", fd.uploadLink)
	r.PUT("/upload-target", fd.receiveUpload)

	fd.server = httptest.NewServer(r)
	t.Cleanup(fd.server.Close)
	return fd
}

func (fd *fakeDisk) client(t *testing.T, pageSize int) *Client {
	t.Helper()
	c, err := New(&Options{Token: testToken, BaseURL: fd.server.URL, PageSize: pageSize})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func (fd *fakeDisk) put(p string, content string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.files[p] = []byte(content)
	for dir := path.Dir(p); dir != "disk:" && dir != "."; dir = path.Dir(dir) {
		fd.dirs[dir] = true
	}
}

func (fd *fakeDisk) callCount(key string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.calls[key]
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (fd *fakeDisk) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, APIError{Code: "DiskNotFoundError", Message: "Не удалось найти запрошенный ресурс."})
}

func (fd *fakeDisk) getResource(c *gin.Context) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	p := c.Query("path")
	if content, ok := fd.files[p]; ok {
		c.JSON(http.StatusOK, Resource{Name: path.Base(p), Path: p, Type: typeFile, MD5: md5hex(content), Size: int64(len(content))})
		return
	}
	if !fd.dirs[p] {
		fd.notFound(c)
		return
	}
	if fd.failList != 0 {
		c.JSON(fd.failList, APIError{Code: "InternalServerError", Message: "boom"})
		return
	}

	var children []*Resource
	for f, content := range fd.files {
		if path.Dir(f) == p {
			children = append(children, &Resource{Name: path.Base(f), Path: f, Type: typeFile, MD5: md5hex(content), Size: int64(len(content))})
		}
	}
	for d := range fd.dirs {
		if d != p && path.Dir(d) == p {
			children = append(children, &Resource{Name: path.Base(d), Path: d, Type: typeDir})
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	total := len(children)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, Resource{
		Name: path.Base(p),
		Path: p,
		Type: typeDir,
		Embedded: &ResourceList{
			Path:   p,
			Items:  children[offset:end],
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

func (fd *fakeDisk) createFolder(c *gin.Context) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	p := c.Query("path")
	if fd.dirs[p] {
		c.JSON(http.StatusConflict, APIError{Code: "DiskPathPointsToExistentDirectoryError", Message: "exists"})
		return
	}
	fd.dirs[p] = true
	c.JSON(http.StatusCreated, Link{Href: fd.server.URL + "/resources?path=" + p, Method: http.MethodGet})
}

func (fd *fakeDisk) deleteResource(c *gin.Context) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	p := c.Query("path")
	if _, ok := fd.files[p]; !ok {
		fd.notFound(c)
		return
	}
	delete(fd.files, p)
	c.Status(http.StatusNoContent)
}

func (fd *fakeDisk) uploadLink(c *gin.Context) {
	p := c.Query("path")
	if c.Query("overwrite") != "true" {
		c.JSON(http.StatusConflict, APIError{Code: "DiskResourceAlreadyExistsError", Message: "overwrite disabled"})
		return
	}
	fd.mu.Lock()
	parentOK := fd.dirs[path.Dir(p)]
	fd.mu.Unlock()
	if !parentOK {
		c.JSON(http.StatusConflict, APIError{Code: "DiskPathDoesntExistsError", Message: "parent missing"})
		return
	}
	c.JSON(http.StatusOK, Link{Href: fd.server.URL + "/upload-target?path=" + p, Method: http.MethodPut})
}

func (fd *fakeDisk) receiveUpload(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if c.Request.ContentLength != int64(len(body)) || strings.Contains(c.GetHeader("Authorization"), "OAuth") {
		c.Status(http.StatusBadRequest)
		return
	}
	fd.put(c.Query("path"), string(body))
	c.Status(http.StatusCreated)
}
