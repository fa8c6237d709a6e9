package devserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"

	"github.com/gorilla/mux"
)

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// listFiles handles GET /api/files/list.
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cur := s.current()
	list := models.FileList{Version: int64(len(s.versions)), Files: make([]models.FileInfo, 0, len(cur))}
	for name, sha := range cur {
		list.Files = append(list.Files, models.FileInfo{Filename: name, SHA256: sha, Size: int64(len(s.objects[sha]))})
	}
	s.mu.Unlock()

	sort.Slice(list.Files, func(i, j int) bool { return list.Files[i].Filename < list.Files[j].Filename })
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// putObject handles PUT /api/files/objects/{sha256}?filename=F. Objects are
// immutable: a second upload of the same hash answers 409.
func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	sha := mux.Vars(r)["sha256"]
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		http.Error(w, "File is too big", http.StatusRequestEntityTooLarge)
		return
	}
	if got := hashHex(data); got != sha {
		http.Error(w, fmt.Sprintf("Hash mismatch for %s", r.URL.Query().Get("filename")), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[sha]; ok {
		http.Error(w, "Object already exists", http.StatusConflict)
		return
	}
	s.objects[sha] = data
	logger.Debug("devserver_object_stored", "sha256", sha, "filename", r.URL.Query().Get("filename"), "size", len(data))
	w.WriteHeader(http.StatusOK)
}

// publish handles POST /api/files/publish with a form body mapping each
// filename to the object it should serve.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Malformed form body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bundle := map[string]string{}
	for name, vals := range r.PostForm {
		if len(vals) == 0 {
			continue
		}
		sha := vals[len(vals)-1]
		if _, ok := s.objects[sha]; !ok {
			http.Error(w, fmt.Sprintf("Missing object %s for %s", sha, name), http.StatusUnprocessableEntity)
			return
		}
		bundle[name] = sha
	}
	s.versions = append(s.versions, bundle)
	version := int64(len(s.versions))

	logger.Info("devserver_published", "version", version, "files", len(bundle))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.PublishResult{Version: version})
}

// fetchFile handles GET /files/{version}/{filename}.
func (s *Server) fetchFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	var data []byte
	found := false
	if version >= 1 && version <= len(s.versions) {
		if sha, ok := s.versions[version-1][vars["filename"]]; ok {
			data, found = s.objects[sha]
		}
	}
	s.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
