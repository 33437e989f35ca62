package scoring

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	apierr "kubegems.io/modelimage/pkg/errors"
)

const IDRegexp = `[0-9A-Za-z][0-9A-Za-z._-]*`

// Handler serves the scoring API of the model directory.
func (s *Server) Handler() http.Handler {
	mux := mux.NewRouter()
	mux = mux.StrictSlash(true)
	// healthy
	mux.Methods("GET").Path("/").HandlerFunc(s.Ping)
	mux.Methods("POST").Path("/executions").HandlerFunc(s.Execute)
	mux.Methods("GET").Path("/query/{id:" + IDRegexp + "}").HandlerFunc(s.QueryResult)
	mux.Methods("GET").Path("/query/{id:" + IDRegexp + "}/log").HandlerFunc(s.QueryLog)
	mux.Methods("GET").Path("/system/log").HandlerFunc(s.GetSystemLog)
	return mux
}

func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	if s.MaxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	}
	id := s.newID()
	input, err := s.saveUpload(r, id)
	if err != nil {
		ResponseError(w, err)
		return
	}
	if input == "" {
		if _, err := os.Stat(filepath.Join(s.Dir, s.SampleFile)); err != nil {
			ResponseStatus(w, http.StatusBadRequest, fmt.Sprintf(
				"Bad Request: %s--> Please check your data payload...Can't find %s in the model zip file!", r.URL, s.SampleFile))
			return
		}
		input = s.SampleFile
	}
	ResponseCreated(w, s.submit(id, input))
}

// saveUpload stores the multipart "file" field as <id>_input.csv in the model
// directory and returns that name, or "" when the request carries no file.
// The client's file name is never used.
func (s *Server) saveUpload(r *http.Request, id string) (string, error) {
	file, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", apierr.NewParameterInvalidError(err.Error())
	}
	defer file.Close()

	name := id + inputSuffix
	dest, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return "", apierr.NewInternalError(err)
	}
	defer dest.Close()
	if _, err := io.Copy(dest, file); err != nil {
		return "", apierr.NewInternalError(err)
	}
	return name, nil
}

func (s *Server) QueryResult(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["id"])
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	if strings.HasSuffix(name, partialSuffix) {
		ResponseStatus(w, http.StatusNotFound, fmt.Sprintf("Not Found: %s--> File not found!", r.URL))
		return
	}
	s.serveFile(w, r, filepath.Join(s.Dir, name))
}

func (s *Server) QueryLog(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["id"])
	name = strings.TrimSuffix(name, ".csv")
	if !strings.HasSuffix(name, ".log") {
		name += ".log"
	}
	s.serveFile(w, r, filepath.Join(s.Dir, name))
}

func (s *Server) GetSystemLog(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.SystemLog)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		ResponseStatus(w, http.StatusNotFound, fmt.Sprintf("Not Found: %s--> File not found!", r.URL))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
