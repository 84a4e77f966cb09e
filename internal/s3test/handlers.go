package s3test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/eteran/objstore/pkg/core"
)

const s3XMLNamespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(core.S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

func writeNoSuchBucketError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNoSuchUploadError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchUpload", "The specified multipart upload does not exist.", r.URL.Path, http.StatusNotFound)
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("list-type") != "2" {
		writeS3Error(w, "NotImplemented", "Only ListObjectsV2 is implemented.", r.URL.Path, http.StatusNotImplemented)
		return
	}
	s.handleListObjectsV2(w, r)
}

func encodeToken(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeToken(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return string(b), err
}

// handleListObjectsV2 pages through the sorted keys. The continuation
// token encodes the last emitted entry, which is a key or a common prefix.
func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuationToken := q.Get("continuation-token")
	startAfter := ""
	if continuationToken == "" {
		startAfter = q.Get("start-after")
	}

	after := startAfter
	if continuationToken != "" {
		decoded, err := decodeToken(continuationToken)
		if err != nil {
			writeS3Error(w, "InvalidArgument", "The continuation token provided is incorrect.", r.URL.Path, http.StatusBadRequest)
			return
		}
		after = decoded
	}

	maxKeys := s.pageSize
	if raw := q.Get("max-keys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxKeys {
			maxKeys = v
		}
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var (
		summaries      []core.ObjectSummary
		commonPrefixes []core.CommonPrefix
		entryCount     int
		isTruncated    bool
		lastEntry      string
	)

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || key <= after {
			continue
		}
		// Keys below a common prefix that was already emitted.
		if delimiter != "" && strings.HasSuffix(after, delimiter) && strings.HasPrefix(key, after) {
			continue
		}

		entry := key
		isPrefix := false
		if delimiter != "" {
			rel := strings.TrimPrefix(key, prefix)
			if idx := strings.Index(rel, delimiter); idx >= 0 {
				entry = prefix + rel[:idx+len(delimiter)]
				isPrefix = true
			}
		}
		if isPrefix && entry == lastEntry {
			continue
		}

		if entryCount == maxKeys {
			isTruncated = true
			break
		}

		if isPrefix {
			commonPrefixes = append(commonPrefixes, core.CommonPrefix{Prefix: entry})
		} else {
			obj := s.objects[key]
			summaries = append(summaries, core.ObjectSummary{
				Key:          key,
				LastModified: obj.ModTime.Format(time.RFC3339),
				ETag:         obj.ETag,
				Size:         int64(len(obj.Data)),
				StorageClass: "STANDARD",
			})
		}
		lastEntry = entry
		entryCount++
	}
	s.mu.Unlock()

	nextContinuationToken := ""
	if isTruncated {
		nextContinuationToken = encodeToken(lastEntry)
	}

	resp := core.ListBucketResultV2{
		XMLNS:                 s3XMLNamespace,
		Name:                  s.Bucket,
		Prefix:                prefix,
		Delimiter:             delimiter,
		KeyCount:              entryCount,
		MaxKeys:               maxKeys,
		IsTruncated:           isTruncated,
		ContinuationToken:     continuationToken,
		NextContinuationToken: nextContinuationToken,
		StartAfter:            startAfter,
		Contents:              summaries,
		CommonPrefixes:        commonPrefixes,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Error("Encode list objects v2 XML", "bucket", s.Bucket, "err", err)
	}
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	switch {
	case r.Header.Get("X-Amz-Copy-Source") != "":
		s.handleCopyObject(w, r, key, r.Header.Get("X-Amz-Copy-Source"))
	case q.Has("uploadId"):
		s.handleUploadPart(w, r, key, q.Get("uploadId"), q.Get("partNumber"))
	default:
		s.handlePutObject(w, r, key)
	}
}

// readAll returns the request body, which the authentication middleware
// has already buffered.
func readAll(r *http.Request) []byte {
	body, _ := io.ReadAll(r.Body)
	return body
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, key string) {
	body := readAll(r)

	s.mu.Lock()
	obj := s.newObject(body, r.Header.Get("Content-Type"))
	s.objects[key] = obj
	s.mu.Unlock()

	w.Header().Set("ETag", obj.ETag)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request, destKey string, copySource string) {
	bucket, encodedKey, ok := strings.Cut(strings.TrimPrefix(copySource, "/"), "/")
	if !ok || bucket != s.Bucket {
		writeS3Error(w, "InvalidArgument", "Invalid copy source.", r.URL.Path, http.StatusBadRequest)
		return
	}
	srcKey, err := url.PathUnescape(encodedKey)
	if err != nil {
		writeS3Error(w, "InvalidArgument", "Invalid copy source encoding.", r.URL.Path, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	src, ok := s.objects[srcKey]
	var obj *Object
	if ok {
		obj = s.newObject(slices.Clone(src.Data), src.ContentType)
		s.objects[destKey] = obj
	}
	s.mu.Unlock()

	if !ok {
		writeNoSuchKeyError(w, r)
		return
	}

	resp := core.CopyObjectResult{
		XMLNS:        s3XMLNamespace,
		LastModified: obj.ModTime.Format(time.RFC3339),
		ETag:         obj.ETag,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Error("Encode copy object XML", "key", destKey, "err", err)
	}
}

func parseRange(header string, size int64) (start, end int64, ok bool) {
	ranges, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false
	}
	first, last, found := strings.Cut(ranges, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		end = min(end, size-1)
	}
	return start, end, true
}

// checkConditions reports the status a conditional request ends with, or
// zero when the object should be served.
func checkConditions(r *http.Request, obj *Object) int {
	if m := r.Header.Get("If-Match"); m != "" && m != obj.ETag && m != "*" {
		return http.StatusPreconditionFailed
	}
	if raw := r.Header.Get("If-Unmodified-Since"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil && obj.ModTime.After(t) {
			return http.StatusPreconditionFailed
		}
	}
	if m := r.Header.Get("If-None-Match"); m != "" && (m == obj.ETag || m == "*") {
		return http.StatusNotModified
	}
	if raw := r.Header.Get("If-Modified-Since"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil && !obj.ModTime.After(t) {
			return http.StatusNotModified
		}
	}
	return 0
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, key string, head bool) {
	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		if head {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeNoSuchKeyError(w, r)
		return
	}

	switch checkConditions(r, obj) {
	case http.StatusNotModified:
		w.Header().Set("ETag", obj.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	case http.StatusPreconditionFailed:
		if head {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		writeS3Error(w, "PreconditionFailed", "At least one of the pre-conditions you specified did not hold", r.URL.Path, http.StatusPreconditionFailed)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Last-Modified", obj.ModTime.Format(http.TimeFormat))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	data := obj.Data
	status := http.StatusOK
	if raw := r.Header.Get("Range"); raw != "" {
		start, end, ok := parseRange(raw, int64(len(data)))
		if !ok {
			writeS3Error(w, "InvalidRange", "The requested range is not satisfiable", r.URL.Path, http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		data = data[start : end+1]
		status = http.StatusPartialContent
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if !head {
		_, _ = w.Write(data)
	}
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, key string) {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	switch {
	case q.Has("uploads"):
		s.handleCreateMultipartUpload(w, r, key)
	case q.Has("uploadId"):
		s.handleCompleteMultipartUpload(w, r, key, q.Get("uploadId"))
	default:
		writeS3Error(w, "NotImplemented", "POST is only supported for multipart uploads.", r.URL.Path, http.StatusNotImplemented)
	}
}

func (s *Server) handleCreateMultipartUpload(w http.ResponseWriter, r *http.Request, key string) {
	s.mu.Lock()
	s.nextUpload++
	uploadID := fmt.Sprintf("upload-%d", s.nextUpload)
	s.uploads[uploadID] = &upload{key: key, parts: make(map[int]*Object)}
	s.mu.Unlock()

	resp := core.InitiateMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Bucket:   s.Bucket,
		Key:      key,
		UploadID: uploadID,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Error("Encode create multipart upload XML", "key", key, "err", err)
	}
}

// handleUploadPart implements UploadPart: PUT /bucket/key?partNumber=N&uploadId=ID
func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, key string, uploadID string, rawPartNumber string) {
	partNumber, err := strconv.Atoi(rawPartNumber)
	if err != nil || partNumber < 1 || partNumber > 10000 {
		writeS3Error(w, "InvalidArgument", "Invalid part number.", r.URL.Path, http.StatusBadRequest)
		return
	}
	body := readAll(r)

	s.mu.Lock()
	up, ok := s.uploads[uploadID]
	var part *Object
	if ok && up.key == key {
		part = s.newObject(body, "")
		up.parts[partNumber] = part
	}
	s.mu.Unlock()

	if part == nil {
		writeNoSuchUploadError(w, r)
		return
	}

	w.Header().Set("ETag", part.ETag)
	w.WriteHeader(http.StatusOK)
}

// handleCompleteMultipartUpload implements CompleteMultipartUpload:
// POST /bucket/key?uploadId=ID
func (s *Server) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, key string, uploadID string) {
	var req core.CompleteMultipartUpload
	if err := xml.Unmarshal(readAll(r), &req); err != nil {
		writeS3Error(w, "MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema.", r.URL.Path, http.StatusBadRequest)
		return
	}
	if len(req.Parts) == 0 {
		writeS3Error(w, "InvalidRequest", "You must specify at least one part.", r.URL.Path, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		writeNoSuchUploadError(w, r)
		return
	}

	var data []byte
	h := sha256.New()
	for i, part := range req.Parts {
		if i > 0 && part.PartNumber <= req.Parts[i-1].PartNumber {
			writeS3Error(w, "InvalidPartOrder", "The list of parts was not in ascending order.", r.URL.Path, http.StatusBadRequest)
			return
		}
		stored, ok := up.parts[part.PartNumber]
		if !ok || stored.ETag != part.ETag {
			writeS3Error(w, "InvalidPart", "One or more of the specified parts could not be found.", r.URL.Path, http.StatusBadRequest)
			return
		}
		data = append(data, stored.Data...)
		h.Write([]byte(stored.ETag))
	}

	obj := s.newObject(data, "")
	obj.ETag = createETag(fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(req.Parts)))
	s.objects[key] = obj
	delete(s.uploads, uploadID)

	resp := core.CompleteMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Location: fmt.Sprintf("/%s/%s", s.Bucket, key),
		Bucket:   s.Bucket,
		Key:      key,
		ETag:     obj.ETag,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		s.logger.Error("Encode complete multipart upload XML", "key", key, "err", err)
	}
}
