package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	barColor      = color.New(color.FgGreen)
)

// Spinner is an animated indicator for blocking operations such as
// broker connects.
type Spinner struct {
	mu       sync.Mutex
	active   bool
	message  string
	stopChan chan struct{}
	done     chan struct{}
}

// NewSpinner creates a new spinner
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message}
}

// Start starts the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		w, noColor := console()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()

			frame := spinnerFrames[i%len(spinnerFrames)]
			if !noColor {
				frame = keyColor.Sprint(frame)
			}
			_, _ = fmt.Fprintf(w, "\r%s %s", frame, msg)

			select {
			case <-s.stopChan:
				_, _ = fmt.Fprintf(w, "\r%s\r", strings.Repeat(" ", len(msg)+4))
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the spinner and clears its line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

// UpdateMessage updates the spinner message
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// WithSpinner runs fn with a spinner
func WithSpinner(message string, fn func() error) error {
	spinner := NewSpinner(message)
	spinner.Start()
	err := fn()
	spinner.Stop()

	if err != nil {
		Errorf("%s failed: %v", message, err)
	} else {
		Successf("%s completed", message)
	}
	return err
}

// ProgressBar renders a single-line percentage bar with a trailing label
type ProgressBar struct {
	mu      sync.Mutex
	width   int
	message string
	percent float64
	label   string
}

// NewProgressBar creates a new progress bar
func NewProgressBar(message string) *ProgressBar {
	return &ProgressBar{width: 40, message: message}
}

// Update redraws the bar at percent (0-100) with the given label
func (p *ProgressBar) Update(percent float64, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.percent = percent
	p.label = label
	p.draw()
}

// Finish draws the final state and ends the line
func (p *ProgressBar) Finish(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
	p.draw()
	w, _ := console()
	_, _ = fmt.Fprintln(w)
}

func (p *ProgressBar) draw() {
	filled := int(p.percent / 100 * float64(p.width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)

	w, noColor := console()
	if noColor {
		_, _ = fmt.Fprintf(w, "\r%s: [%s] %5.1f%% %-24s", p.message, bar, p.percent, p.label)
		return
	}
	_, _ = fmt.Fprintf(w, "\r%s: %s %5.1f%% %-24s", p.message, barColor.Sprint(bar), p.percent, p.label)
}
