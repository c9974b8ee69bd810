package index

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressEvery is how many processed items pass between progress log lines.
const ProgressEvery = 20

// ProgressReporter receives progress updates during index building.
type ProgressReporter interface {
	// OnProgress is called after each processed item.
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// BarReporter draws a terminal progress bar on stderr.
type BarReporter struct {
	bar *progressbar.ProgressBar
}

// NewBarReporter returns a bar reporter, or nil when stderr is not a
// terminal.
func NewBarReporter() *BarReporter {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return &BarReporter{}
}

// OnProgress implements ProgressReporter.
func (p *BarReporter) OnProgress(current, total int) {
	if p == nil || total <= 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("indexing"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = p.bar.Set(current)
	if current >= total {
		_ = p.bar.Finish()
	}
}
