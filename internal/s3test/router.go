package s3test

import (
	"net/http"
)

// Handler returns the http.Handler implementing the emulated S3 API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Bucket-level operations
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		s.handleBucketGet(w, r)
	})

	// Object-level operations
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		s.handleObjectPut(w, r, r.PathValue("key"))
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		key := r.PathValue("key")
		if key == "" {
			s.handleBucketGet(w, r)
			return
		}
		s.handleObjectGet(w, r, key, false)
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		s.handleObjectGet(w, r, r.PathValue("key"), true)
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		s.handleObjectDelete(w, r, r.PathValue("key"))
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBucket(w, r) {
			return
		}
		s.handleObjectPost(w, r, r.PathValue("key"))
	})

	// Add middleware
	handler := s.RequireAuthentication(mux)
	handler = s.LogRequest(handler)
	handler = s.Recoverer(handler)
	return handler
}

func (s *Server) checkBucket(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("bucket") != s.Bucket {
		writeNoSuchBucketError(w, r)
		return false
	}
	return true
}
