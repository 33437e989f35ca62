package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"kubegems.io/modelimage/pkg/progress/units"
)

type Bar struct {
	Name      string
	Total     int64  // total bytes, -1 for indeterminate
	Completed int64  // completed bytes
	Width     int    // width of the bar
	Status    string // status text
	Done      bool   // if the bar is done
	mu        sync.Mutex
	mp        *MultiBar
}

func (b *Bar) Write(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Width == 0 {
		b.Width = 40
	}
	var completed int
	var status string

	switch {
	case b.Done:
		completed = b.Width
		status = b.Status
	case b.Total <= 0:
		status = b.Status
		if b.Completed > 0 {
			status = units.HumanSize(float64(b.Completed))
		}
	default:
		completed = int(float64(b.Width) * float64(b.Completed) / float64(b.Total))
		if completed > b.Width {
			completed = b.Width
		}
		status = units.HumanSize(float64(b.Completed)) + "/" + units.HumanSize(float64(b.Total))
	}

	fmt.Fprintf(w, "%s [%s%s] %s\n",
		b.Name,
		strings.Repeat("+", completed),
		strings.Repeat("-", b.Width-completed),
		status,
	)
}

func (b *Bar) SetStatus(name, status string) {
	b.mu.Lock()
	b.Name, b.Status = name, status
	b.mu.Unlock()
	b.Notify()
}

func (b *Bar) Finish(status string) {
	b.mu.Lock()
	b.Done, b.Status = true, status
	b.mu.Unlock()
	b.Notify()
}

func (b *Bar) Notify() {
	if b.mp != nil {
		b.mp.markChanged()
	}
}

// WrapWriter counts bytes written through w against total.
func (b *Bar) WrapWriter(w io.Writer, total int64, status string) io.Writer {
	b.mu.Lock()
	b.Total, b.Status = total, status
	b.mu.Unlock()
	b.Notify()
	return &barw{w: w, b: b}
}

type barw struct {
	w io.Writer
	b *Bar
}

func (r *barw) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	r.b.mu.Lock()
	r.b.Completed += int64(n)
	if err != nil {
		r.b.Done, r.b.Status = true, "failed"
	}
	r.b.mu.Unlock()
	r.b.Notify()
	return n, err
}
