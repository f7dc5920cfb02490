package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/permission"
	"github.com/JonMunkholm/stageload/internal/reader"
	"github.com/JonMunkholm/stageload/internal/settings"
)

// multipartMemory is how much of a multipart body is held in memory
// before parts spill to temporary files.
const multipartMemory = 32 << 20

const healthTimeout = 5 * time.Second

var (
	errFileTooLarge = errors.New("file too large")
	errNoFile       = errors.New("no file provided")
)

// handleHealth pings the destination store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	st := s.service.Store()
	if err := st.Ping(ctx); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "dialect": st.Dialect()})
}

type columnInfo struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type fileTypeInfo struct {
	Name     string       `json:"name"`
	Table    string       `json:"table"`
	DayFirst bool         `json:"dayFirst"`
	Columns  []columnInfo `json:"columns"`
}

// handleFileTypes lists the configured file types in declared order.
func (s *Server) handleFileTypes(w http.ResponseWriter, r *http.Request) {
	out := make([]fileTypeInfo, 0, len(s.settings.FileTypes()))
	for _, name := range s.settings.FileTypes() {
		ft, err := s.settings.Lookup(name)
		if err != nil {
			continue
		}
		info := fileTypeInfo{Name: ft.Name, Table: ft.Table, DayFirst: ft.DayFirst}
		for _, m := range ft.Columns {
			info.Columns = append(info.Columns, columnInfo{Source: m.Source, Target: m.Target, Type: m.DType})
		}
		out = append(out, info)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handlePermissions runs the permission check for ?namespace=, defaulting
// to the configured namespace. A failing report is still a 200; only a
// failed probe is an error.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		ns = s.cfg.Load.DefaultNamespace
	}

	report, err := permission.Check(r.Context(), s.service.Store(), ns)
	if err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleLoads returns recent load results, newest first. ?limit= caps the
// list; the default is every retained result.
func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid limit", "code": "BAD_REQUEST"})
			return
		}
		limit = n
	}
	writeJSON(w, r, http.StatusOK, s.service.History().Recent(limit))
}

func (s *Server) handleLoadResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.service.History().Find(chi.URLParam(r, "loadID"))
	if !ok {
		writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "load not found", "code": "NOT_FOUND"})
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type statusResponse struct {
	Dialect  string                 `json:"dialect"`
	Loads    core.LoadLimiterStatus `json:"loads"`
	Recorded int                    `json:"recorded"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, statusResponse{
		Dialect:  s.service.Store().Dialect(),
		Loads:    s.service.Limiter().Status(),
		Recorded: s.service.History().Len(),
	})
}

// handleLoad reads one multipart CSV upload ("file") and loads it.
//
// The file type comes from the URL, or is detected from the header when
// the URL names none. Form fields:
//
//	namespace   destination schema for a table without one
//	append      "true" keeps existing rows of a matching table
//	recreate    "true" rebuilds the table even when it matches
//	skip_check  "true" skips the permission check
//
// A load that runs and fails answers 422 with the LoadResult, or 503 with
// Retry-After when the loader is busy.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("invalid csv: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.respondError(w, r, reader.ErrUnsupported, http.StatusUnsupportedMediaType)
		return
	}

	f, err := reader.Read(header.Filename, file)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ft, err := s.resolveFileType(chi.URLParam(r, "fileType"), f)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if missing := reader.MissingColumns(f, ft); len(missing) > 0 {
		err := fmt.Errorf("invalid csv: %s is missing columns %s", ft.Name, strings.Join(missing, ", "))
		s.respondErrorDetails(w, r, err, http.StatusUnprocessableEntity, map[string][]string{"missing": missing})
		return
	}

	ns := r.FormValue("namespace")
	if ns == "" {
		ns = s.cfg.Load.DefaultNamespace
	}
	req := reader.Request(f, ft, ns)
	req.Append = formBool(r, "append")
	req.ForceRecreate = formBool(r, "recreate")

	if !formBool(r, "skip_check") {
		report, err := permission.Check(r.Context(), s.service.Store(), req.Table.Schema)
		if err != nil {
			s.respondError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		if !report.Passed {
			s.respondErrorDetails(w, r, report.Err(), http.StatusForbidden, report)
			return
		}
	}

	res := s.service.Load(withOrigin(r.Context(), r), req)

	status := http.StatusOK
	switch {
	case res.Success:
	case res.Code == "ERR501":
		w.Header().Set("Retry-After", "30")
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, r, status, res)
}

// resolveFileType looks up name, or detects the type from f's header
// when name is empty.
func (s *Server) resolveFileType(name string, f *reader.File) (*settings.FileType, error) {
	if name == "" {
		detected, ok := reader.DetectFileType(f, s.settings)
		if !ok {
			return nil, fmt.Errorf("%w: no configured type matches the header of %s", settings.ErrUnknownFileType, f.Name)
		}
		name = detected
	}
	return s.settings.Lookup(name)
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}
