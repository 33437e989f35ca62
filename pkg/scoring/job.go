package scoring

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	partialSuffix = ".partial.csv"
	inputSuffix   = "_input.csv"
)

// Job is one scoring invocation. Paths are relative to Dir.
type Job struct {
	ID     string
	Dir    string
	Script string
	Model  string
	Input  string
	Output string
}

func (j Job) Args() []string {
	args := []string{"-W", "ignore", j.Script}
	if j.Model != "" {
		args = append(args, "-m", j.Model)
	}
	return append(args, "-i", j.Input, "-o", j.Output)
}

// Runner executes the score script of a job, writing its console output to out.
type Runner interface {
	Run(ctx context.Context, job Job, out io.Writer) error
}

type ExecRunner struct {
	Python string
}

func (r ExecRunner) Run(ctx context.Context, job Job, out io.Writer) error {
	cmd := exec.CommandContext(ctx, r.Python, job.Args()...)
	cmd.Dir = job.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

func (r ExecRunner) CommandLine(job Job) string {
	return strings.Join(append([]string{r.Python}, job.Args()...), " ")
}

// NewJobID formats t as seconds with microseconds, e.g. "1589212345.123456".
func NewJobID(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func appendFile(name string, content string) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, content)
	return err
}
