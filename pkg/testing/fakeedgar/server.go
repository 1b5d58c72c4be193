// Package fakeedgar serves an in-memory EDGAR archive for tests.
package fakeedgar

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is an httptest server with settable resources and request counts.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	resources map[string][]byte
	hits      map[string]int
	total     int
}

// New starts a server. Callers must Close it.
func New() *Server {
	s := &Server{
		resources: make(map[string][]byte),
		hits:      make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// BaseURL is the archive root to configure clients with.
func (s *Server) BaseURL() string {
	return s.URL + "/Archives"
}

// Set publishes data at the archive-relative path, e.g.
// "edgar/full-index/2020/QTR1/master.gz".
func (s *Server) Set(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources["/Archives/"+strings.TrimLeft(path, "/")] = data
}

// Hits returns how many times the archive-relative path was requested.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/Archives/"+strings.TrimLeft(path, "/")]
}

// Total returns the number of requests served.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.total++
	s.hits[r.URL.Path]++
	data, ok := s.resources[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}
