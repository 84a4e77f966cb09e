package s3test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/checksum"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// LogRequest is middleware that logs handled requests at debug level.
func (s *Server) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		s.logger.Debug("Emulator request", slog.Group("request",
			"method", r.Method,
			"url", r.URL.String(),
			"duration_ms", float64(elapsed)/float64(time.Millisecond),
			"status_code", writer.WrittenResponseCode,
		))
	})
}

func authErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, auth.ErrSignatureMismatch):
		return "SignatureDoesNotMatch", http.StatusForbidden
	case errors.Is(err, auth.ErrRequestTimeTooSkewed):
		return "RequestTimeTooSkewed", http.StatusForbidden
	case errors.Is(err, auth.ErrUnknownAccessKey):
		return "InvalidAccessKeyId", http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidToken):
		return "InvalidToken", http.StatusBadRequest
	case errors.Is(err, auth.ErrPayloadHashMismatch):
		return "XAmzContentSHA256Mismatch", http.StatusBadRequest
	default:
		return "AccessDenied", http.StatusForbidden
	}
}

// checkChecksums validates every x-amz-checksum-* header against body.
func checkChecksums(r *http.Request, body []byte) bool {
	for name := range r.Header {
		lower := strings.ToLower(name)
		alg, ok := strings.CutPrefix(lower, "x-amz-checksum-")
		if !ok {
			continue
		}
		kind, err := checksum.ParseKind(alg)
		if err != nil || !kind.IsSet() {
			continue
		}
		if _, want := kind.Header(body); want != r.Header.Get(name) {
			return false
		}
	}
	return true
}

func (s *Server) objectKey(r *http.Request) string {
	_, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	return key
}

// RequireAuthentication is middleware that verifies the SigV4 signature
// and payload of every request, records it and applies scripted faults.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, "IncompleteBody", "Failed to read request body", r.URL.Path, http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		rec := Request{
			Method: r.Method,
			Key:    s.objectKey(r),
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		}

		id, err := s.verifier.Verify(r)
		if err == nil {
			err = auth.CheckPayload(r, body)
		}
		if err == nil {
			rec.AccessKeyID = id.AccessKeyID
			rec.Signature = id.Signature
		}

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		var fault *Fault
		if err == nil {
			if len(s.faults) > 0 {
				fault = &s.faults[0]
				s.faults = s.faults[1:]
			} else if s.intercept != nil {
				fault = s.intercept(rec)
			}
		}
		s.mu.Unlock()

		if err != nil {
			code, status := authErrorCode(err)
			writeS3Error(w, code, err.Error(), r.URL.Path, status)
			return
		}
		if !checkChecksums(r, body) {
			writeS3Error(w, "BadDigest", "The checksum you specified did not match the payload.", r.URL.Path, http.StatusBadRequest)
			return
		}

		if fault != nil {
			writeFault(w, r, fault)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeFault(w http.ResponseWriter, r *http.Request, f *Fault) {
	if f.Status < 300 {
		status := f.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, f.Body)
		return
	}
	message := f.Message
	if message == "" {
		message = http.StatusText(f.Status)
	}
	writeS3Error(w, f.Code, message, r.URL.Path, f.Status)
}

func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				s.logger.Error("Internal Error in HTTP handler", "error", rvr)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
