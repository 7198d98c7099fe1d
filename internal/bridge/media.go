package bridge

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gaspardpetit/manim-mcp/internal/jobindex"
	"github.com/gaspardpetit/manim-mcp/internal/procstat"
)

func (s *Server) handleClientPage(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.opts.ClientPage); err != nil {
		http.Error(w, "client page not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, s.opts.ClientPage)
}

// handleVideo serves <media>/<filename> as video/mp4 with range support.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Video file not found"})
		return
	}
	f, err := os.Open(filepath.Join(s.opts.MediaDir, name))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Video file not found"})
		return
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Video file not found"})
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// outputFiles serves the media directory without directory listings.
func (s *Server) outputFiles() http.Handler {
	fsys := http.Dir(s.opts.MediaDir)
	files := http.FileServer(fsys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".mp4") {
			w.Header().Set("Content-Type", "video/mp4")
		}
		files.ServeHTTP(w, r)
	})
}

type videoFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	URL      string    `json:"url"`
}

// listVideos returns the mp4 files at the top of the media directory, newest
// first.
func (s *Server) listVideos() ([]videoFile, error) {
	des, err := os.ReadDir(s.opts.MediaDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	base := strings.TrimRight(s.opts.PublicURL, "/")
	var out []videoFile
	for _, d := range des {
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".mp4") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, videoFile{Name: d.Name(), Size: info.Size(), Modified: info.ModTime().UTC(), URL: base + "/video/" + d.Name()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Server) handleDebugVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.listVideos()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jobs, err := s.jobs.List(r.Context(), 100)
	if err != nil {
		s.log.Warn().Err(err).Msg("list jobs")
	}
	if videos == nil {
		videos = []videoFile{}
	}
	if jobs == nil {
		jobs = []jobindex.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"media_dir": s.opts.MediaDir,
		"videos":    videos,
		"jobs":      jobs,
	})
}

func (s *Server) handleDebugProcess(w http.ResponseWriter, r *http.Request) {
	st := s.client.Status()
	out := map[string]any{"client": st}
	if st.Pid > 0 {
		ps, err := procstat.Sample(r.Context(), st.Pid)
		if err != nil {
			out["process_error"] = err.Error()
		} else {
			out["process"] = ps
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.client.Status()
	status := "ok"
	code := http.StatusOK
	switch {
	case s.gate.Draining():
		status = "draining"
		code = http.StatusServiceUnavailable
	case st.State == "closed":
		status = "closed"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"version":   s.opts.Version,
		"tool":      st.State,
		"pid":       st.Pid,
		"restarts":  st.Restarts,
		"in_flight": s.gate.InFlight(),
	})
}
