// Package progress reports progress of long-running loops such as the
// benchmark mode of the tagger command.
package progress

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// Progress receives completed work units.
type Progress interface {
	// Add records n more completed units.
	Add(n int)
	// Done marks the work complete.
	Done()
}

// Factory builds a Progress for total units writing to w.
type Factory func(total int, w io.Writer) Progress

// Registry maps reporter names to constructors.
var Registry = map[string]Factory{
	"default": newTerminal,
	"log":     newLogger,
	"none":    func(int, io.Writer) Progress { return nop{} },
}

// Names lists the registered reporters.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named reporter writing to stderr.
func New(name string, total int) (Progress, error) {
	return NewWithWriter(name, total, os.Stderr)
}

// NewWithWriter builds the named reporter writing to w.
func NewWithWriter(name string, total int, w io.Writer) (Progress, error) {
	f, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown progress reporter %q (have %v)", name, Names())
	}
	return f(total, w), nil
}

type nop struct{}

func (nop) Add(int) {}
func (nop) Done()   {}

// terminal draws an ASCII bar.
type terminal struct {
	bar *progressbar.ProgressBar
}

func newTerminal(total int, w io.Writer) Progress {
	return &terminal{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)}
}

func (t *terminal) Add(n int) { _ = t.bar.Add(n) }
func (t *terminal) Done()     { _ = t.bar.Finish() }

// logger emits a structured line every tenth of the way.
type logger struct {
	log      zerolog.Logger
	total    int
	current  int
	reported int
}

func newLogger(total int, w io.Writer) Progress {
	l := log.Logger
	if w != os.Stderr {
		l = zerolog.New(w).With().Timestamp().Logger()
	}
	return &logger{log: l, total: total}
}

func (l *logger) Add(n int) {
	l.current += n
	if l.total <= 0 {
		return
	}
	decile := l.current * 10 / l.total
	if decile > l.reported {
		l.reported = decile
		l.log.Info().Int("current", l.current).Int("total", l.total).Int("percent", decile*10).Msg("Progress")
	}
}

func (l *logger) Done() {
	l.current = l.total
	l.log.Info().Int("total", l.total).Msg("Progress complete")
}
