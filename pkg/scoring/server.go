package scoring

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/handlers"
	"golang.org/x/sync/semaphore"
	"gopkg.in/natefinch/lumberjack.v2"
	apierr "kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
)

func Run(ctx context.Context, opts *Options) error {
	log := logr.FromContextOrDiscard(ctx)

	server, err := NewServer(ctx, opts)
	if err != nil {
		return err
	}
	defer server.Wait()

	systemlog := &lumberjack.Logger{Filename: opts.SystemLog, MaxSize: 50, MaxBackups: 3}
	defer systemlog.Close()

	handler := handlers.CombinedLoggingHandler(io.MultiWriter(systemlog, os.Stdout), server.Handler())
	httpserver := http.Server{
		Addr:    opts.Listen,
		Handler: handler,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		httpserver.Shutdown(context.Background())
	}()
	log.Info("score server listening", "http", opts.Listen, "model", server.Dir, "script", server.Script)
	if err := httpserver.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type Server struct {
	Dir        string
	Script     string
	Model      string
	SampleFile string
	SystemLog  string
	MaxUpload  int64
	Runner     Runner

	ctx  context.Context
	sem  *semaphore.Weighted
	jobs sync.WaitGroup
	now  func() time.Time
	mu   sync.Mutex
	last string
}

// NewServer extracts the first model zip of the repository in place and
// locates the score script among its files.
func NewServer(ctx context.Context, opts *Options) (*Server, error) {
	info, err := os.Stat(opts.ModelRepository)
	if err != nil || !info.IsDir() {
		return nil, apierr.NewConfigInvalidError(fmt.Sprintf("model repository %s is not a directory", opts.ModelRepository))
	}
	zipfile := findZip(opts.ModelRepository)
	if zipfile == "" {
		return nil, apierr.NewNotFoundError(fmt.Sprintf("no model zip file in %s", opts.ModelRepository))
	}
	logr.FromContextOrDiscard(ctx).Info("extracting model", "file", zipfile)
	if err := modelpkg.Extract(ctx, zipfile, opts.ModelRepository); err != nil {
		return nil, err
	}
	server := &Server{
		Dir:        opts.ModelRepository,
		SampleFile: opts.SampleFile,
		SystemLog:  opts.SystemLog,
		MaxUpload:  opts.MaxUploadSize,
		Runner:     ExecRunner{Python: opts.Python},
		ctx:        ctx,
		sem:        semaphore.NewWeighted(max(opts.MaxConcurrent, 1)),
		now:        time.Now,
	}
	server.Script = FindScoreScript(server.Dir)
	server.Model = FindModel(server.Dir)
	return server, nil
}

// Wait blocks until all submitted scoring jobs are done.
func (s *Server) Wait() {
	s.jobs.Wait()
}

func (s *Server) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := NewJobID(s.now())
	// requests within the same microsecond still get distinct ids
	if id <= s.last {
		id = incrementID(s.last)
	}
	s.last = id
	return id
}

func incrementID(id string) string {
	var sec, usec int64
	fmt.Sscanf(id, "%d.%d", &sec, &usec)
	usec++
	if usec >= 1e6 {
		sec, usec = sec+1, 0
	}
	return fmt.Sprintf("%d.%06d", sec, usec)
}

// Submit starts a scoring job for input and returns its id at once.
// The result appears as <id>.csv only after the script completes.
func (s *Server) Submit(input string) string {
	return s.submit(s.newID(), input)
}

func (s *Server) submit(id string, input string) string {
	job := Job{
		ID:     id,
		Dir:    s.Dir,
		Script: s.Script,
		Model:  s.Model,
		Input:  input,
		Output: id + partialSuffix,
	}
	logfile := filepath.Join(s.Dir, id+".log")
	appendFile(logfile, fmt.Sprintf("Scoring...\n %s\n", commandLine(s.Runner, job)))

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		log := logr.FromContextOrDiscard(ctx).WithValues("id", id)
		if err := s.sem.Acquire(ctx, 1); err != nil {
			appendFile(logfile, fmt.Sprintf("\nCanceled: %v\n", err))
			return
		}
		defer s.sem.Release(1)
		if err := s.run(ctx, job, logfile); err != nil {
			log.Error(err, "scoring failed")
			appendFile(logfile, fmt.Sprintf("\nFailed: %v\n", err))
			return
		}
		log.V(1).Info("scoring completed")
		appendFile(logfile, "\nCompleted!\n")
	}()
	return id
}

func (s *Server) run(ctx context.Context, job Job, logfile string) error {
	f, err := os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := s.Runner.Run(ctx, job, f); err != nil {
		return err
	}
	partial := filepath.Join(job.Dir, job.Output)
	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("score script produced no output: %w", err)
	}
	return os.Rename(partial, filepath.Join(job.Dir, job.ID+".csv"))
}

func commandLine(runner Runner, job Job) string {
	if r, ok := runner.(interface{ CommandLine(Job) string }); ok {
		return r.CommandLine(job)
	}
	return fmt.Sprint(job.Args())
}

func findZip(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.zip"))
	sort.Strings(matches)
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}
