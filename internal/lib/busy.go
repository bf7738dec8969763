package lib

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const spinnerInterval = 100 * time.Millisecond

// BusyIndicator shows a spinner while a batch is in flight.
// SetBusy matches the session busy observer signature.
type BusyIndicator struct {
	w           io.Writer
	description string

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	stop chan struct{}
	done chan struct{}
}

// NewBusyIndicator returns an idle indicator that draws to w.
func NewBusyIndicator(w io.Writer, description string) *BusyIndicator {
	return &BusyIndicator{w: w, description: description}
}

func newSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20), // Fit in an 80-column terminal.
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
}

// SetBusy starts the spinner on true and stops it on false. Repeated calls with the
// same value are ignored.
func (b *BusyIndicator) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if busy {
		if b.bar != nil {
			return
		}
		b.bar = newSpinner(b.w, b.description)
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go spin(b.bar, b.stop, b.done)
		return
	}

	if b.bar == nil {
		return
	}
	close(b.stop)
	<-b.done
	_ = b.bar.Finish()
	b.bar = nil
}

// Active reports whether the spinner is running.
func (b *BusyIndicator) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bar != nil
}

func spin(bar *progressbar.ProgressBar, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}
