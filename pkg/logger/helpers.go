package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const (
	IconSuccess = "✅"
	IconRocket  = "🚀"
	IconNetwork = "🌐"
	IconRefresh = "🔄"
	IconDot     = "•"
)

var (
	sectionColor = color.New(color.FgCyan, color.Bold)
	keyColor     = color.New(color.FgCyan)
)

// Success logs a success message with a green checkmark
func Success(args ...interface{}) {
	defaultLogger.Info(IconSuccess + " " + fmt.Sprint(args...))
}

// Successf logs a formatted success message
func Successf(format string, args ...interface{}) {
	Success(fmt.Sprintf(format, args...))
}

// Progress logs a progress message with a refresh icon
func Progress(args ...interface{}) {
	defaultLogger.Info(IconRefresh + " " + fmt.Sprint(args...))
}

// Progressf logs a formatted progress message
func Progressf(format string, args ...interface{}) {
	Progress(fmt.Sprintf(format, args...))
}

// Network logs a network-related message
func Network(args ...interface{}) {
	defaultLogger.Info(IconNetwork + " " + fmt.Sprint(args...))
}

// Networkf logs a formatted network message
func Networkf(format string, args ...interface{}) {
	Network(fmt.Sprintf(format, args...))
}

func console() (io.Writer, bool) {
	s := defaultSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer, s.noColor
}

// LogSection creates a visual section separator
func LogSection(title string) {
	w, noColor := console()
	line := strings.Repeat("=", 50)
	if noColor {
		_, _ = fmt.Fprintf(w, "%s\n%s\n%s\n", line, title, line)
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n%s\n%s\n", keyColor.Sprint(line), sectionColor.Sprint(title), keyColor.Sprint(line))
}

// LogKeyValue logs a key-value pair
func LogKeyValue(key string, value interface{}) {
	w, noColor := console()
	if noColor {
		_, _ = fmt.Fprintf(w, "%s: %v\n", key, value)
		return
	}
	_, _ = fmt.Fprintf(w, "%s %v\n", keyColor.Sprint(key+":"), value)
}

// Table is a simple column-aligned table
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow adds a row to the table
func (t *Table) AddRow(values ...string) {
	t.rows = append(t.rows, values)
}

// Print writes the table to the default logger's console
func (t *Table) Print() {
	w, _ := console()
	t.Fprint(w)
}

// Fprint writes the table to w
func (t *Table) Fprint(w io.Writer) {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range t.headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	b.WriteString("\n")
	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	b.WriteString("\n")
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(w, b.String())
}
