// Package devserver is an in-memory instance speaking the records and files
// API. It backs integration tests and the devserver binary.
package devserver

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"

	"github.com/gorilla/mux"
)

// header naming the uploading user; matches remote.UserHeader
const userHeader = "X-Fieldsync-User"

type record struct {
	ulid      string
	hid       *string
	form      string
	parent    *models.ParentRef
	anchor    int64
	fragments []models.DownloadFragment
}

// Options configure a Server.
type Options struct {
	Prefix         string // instance path, "/" when empty
	Username       string // author of uploaded fragments when the request names none
	MaxUploadBytes int64
}

// Server holds records, file objects and published bundles in memory.
type Server struct {
	opts Options

	mu       sync.Mutex
	anchor   int64
	records  map[string]*record
	objects  map[string][]byte
	versions []map[string]string // index i holds version i+1

	failStatus int
	failMsg    string

	router *mux.Router
}

func New(opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = "/"
	}
	if !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.Username == "" {
		opts.Username = "dev"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 8 << 20
	}
	s := &Server{
		opts:    opts,
		records: map[string]*record{},
		objects: map[string][]byte{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	root := mux.NewRouter()
	r := root
	if s.opts.Prefix != "/" {
		r = root.PathPrefix(strings.TrimSuffix(s.opts.Prefix, "/")).Subrouter()
	}
	r.Use(s.failureMiddleware)

	r.HandleFunc("/api/records/save", s.saveRecords).Methods(http.MethodPost)
	r.HandleFunc("/api/records/load", s.loadRecords).Methods(http.MethodGet)

	r.HandleFunc("/api/files/list", s.listFiles).Methods(http.MethodGet)
	r.HandleFunc("/api/files/objects/{sha256}", s.putObject).Methods(http.MethodPut)
	r.HandleFunc("/api/files/publish", s.publish).Methods(http.MethodPost)
	r.HandleFunc("/files/{version:[0-9]+}/{filename:.+}", s.fetchFile).Methods(http.MethodGet)
	return root
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// FailNext makes the next request fail with status and a plain-text message.
func (s *Server) FailNext(status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus, s.failMsg = status, msg
}

func (s *Server) failureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, msg := s.failStatus, s.failMsg
		s.failStatus, s.failMsg = 0, ""
		s.mu.Unlock()

		if status != 0 {
			logger.Debug("devserver_injected_failure", "path", r.URL.Path, "status", status)
			http.Error(w, msg, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Records returns a snapshot of every stored record, sorted by ulid.
func (s *Server) Records() []models.DownloadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DownloadRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.download())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ULID < out[j].ULID })
	return out
}

// Manifest returns the published bundle (filename to sha256) and its version.
func (s *Server) Manifest() (map[string]string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current()
	out := make(map[string]string, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out, int64(len(s.versions))
}

// SeedFile stores an object and publishes it on top of the current bundle.
func (s *Server) SeedFile(filename string, data []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := hashHex(data)
	s.objects[sha] = append([]byte(nil), data...)
	next := map[string]string{}
	for k, v := range s.current() {
		next[k] = v
	}
	next[filename] = sha
	s.versions = append(s.versions, next)
	return int64(len(s.versions))
}

func (s *Server) current() map[string]string {
	if len(s.versions) == 0 {
		return map[string]string{}
	}
	return s.versions[len(s.versions)-1]
}

func (r *record) download() models.DownloadRecord {
	frags := make([]models.DownloadFragment, len(r.fragments))
	copy(frags, r.fragments)
	return models.DownloadRecord{
		ULID:      r.ulid,
		HID:       r.hid,
		Form:      r.form,
		Parent:    r.parent,
		Anchor:    r.anchor,
		Fragments: frags,
	}
}
