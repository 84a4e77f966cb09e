package core

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrNotModified        = errors.New("not modified")

	// ErrUploadCompleted is returned when a completed multipart upload is
	// used again.
	ErrUploadCompleted = errors.New("multipart upload already completed")
)

// Op names the storage operation a request performs.
type Op string

const (
	OpGet               Op = "get"
	OpHead              Op = "head"
	OpPut               Op = "put"
	OpDelete            Op = "delete"
	OpCopy              Op = "copy"
	OpList              Op = "list"
	OpCreateMultipart   Op = "create multipart"
	OpCompleteMultipart Op = "complete multipart"
)

// RequestError reports that an operation's request could not be carried
// out, either because it could not be sent or because the service refused
// it on every attempt.
type RequestError struct {
	Op   Op
	Path string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("error performing %s request %s: %v", e.Op, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ResponseBodyError reports a successful response whose body could not be
// read or decoded.
type ResponseBodyError struct {
	Op   Op
	Path string
	Err  error
}

func (e *ResponseBodyError) Error() string {
	return fmt.Sprintf("error reading %s response body %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResponseBodyError) Unwrap() error {
	return e.Err
}

// ResponseError is a non-2xx response from the service.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
	Resource   string
	RequestID  string
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status %d", e.StatusCode)
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request id %s)", e.RequestID)
	}
	return b.String()
}

// HTTPStatusCode and ErrorCode let the retry policy classify the error.
func (e *ResponseError) HTTPStatusCode() int { return e.StatusCode }

func (e *ResponseError) ErrorCode() string { return e.Code }

func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrPreconditionFailed:
		return e.StatusCode == http.StatusPreconditionFailed
	case ErrNotModified:
		return e.StatusCode == http.StatusNotModified
	}
	return false
}

const maxErrorBody = 1 << 20

// newResponseError drains and closes resp.Body. Bodies that are not an S3
// error document fall back to the status text.
func newResponseError(resp *http.Response) *ResponseError {
	defer resp.Body.Close()

	e := &ResponseError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Amz-Request-Id"),
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var doc S3Error
	if len(body) > 0 && xml.Unmarshal(body, &doc) == nil {
		e.Code = doc.Code
		e.Message = doc.Message
		e.Resource = doc.Resource
		if doc.RequestID != "" {
			e.RequestID = doc.RequestID
		}
	}

	if e.Code == "" {
		e.Code = strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "")
	}
	return e
}
