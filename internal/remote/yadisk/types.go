package yadisk

import (
	"fmt"
	"time"
)

const (
	typeFile = "file"
	typeDir  = "dir"
)

// Resource is a file or folder descriptor returned by GET /resources.
type Resource struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Type     string        `json:"type"`
	MD5      string        `json:"md5,omitempty"`
	Size     int64         `json:"size,omitempty"`
	Modified time.Time     `json:"modified"`
	Embedded *ResourceList `json:"_embedded,omitempty"`
}

// ResourceList is one page of a folder's children.
type ResourceList struct {
	Path   string      `json:"path"`
	Items  []*Resource `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Total  int         `json:"total"`
}

// Link is the write destination handed out by GET /resources/upload.
type Link struct {
	Href      string `json:"href"`
	Method    string `json:"method"`
	Templated bool   `json:"templated"`
}

// APIError is the error body of the REST API.
type APIError struct {
	Code        string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}
