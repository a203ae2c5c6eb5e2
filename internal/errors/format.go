package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleLoc    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleGutter = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHint   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Format returns the error as a multi-line block for terminal display.
func (e *Error) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	if e.Code != "" {
		b.WriteString(styleError.Render("ERROR " + e.Code + ":"))
	} else {
		b.WriteString(styleError.Render("ERROR:"))
	}
	b.WriteString(" ")
	b.WriteString(styleTitle.Render(e.Message))
	b.WriteString("\n\n")

	if e.Location != nil {
		b.WriteString("  ")
		b.WriteString(styleLoc.Render(e.Location.String()))
		b.WriteString("\n\n")

		if len(e.Context) > 0 {
			startLine := e.Location.Line - len(e.Context)/2
			if startLine < 1 {
				startLine = 1
			}
			for i, line := range e.Context {
				lineNum := startLine + i
				if lineNum == e.Location.Line {
					b.WriteString("  ")
					b.WriteString(styleError.Render("→ "))
					b.WriteString(fmt.Sprintf("%4d", lineNum))
					b.WriteString(styleGutter.Render(" │ "))
					b.WriteString(line)
					b.WriteString("\n")

					if e.Location.Column > 0 {
						b.WriteString("       ")
						b.WriteString(styleGutter.Render("│ "))
						b.WriteString(strings.Repeat(" ", e.Location.Column-1))
						b.WriteString(styleError.Render("^"))
						b.WriteString("\n")
					}
					continue
				}
				b.WriteString("    ")
				b.WriteString(fmt.Sprintf("%4d", lineNum))
				b.WriteString(styleGutter.Render(" │ "))
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if e.Detail != "" {
		for _, line := range strings.Split(strings.TrimRight(e.Detail, "\n"), "\n") {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if e.Wrapped != nil && e.Detail == "" {
		b.WriteString("  ")
		b.WriteString(e.Wrapped.Error())
		b.WriteString("\n\n")
	}

	if e.Suggestion != "" {
		b.WriteString("  ")
		b.WriteString(styleHint.Render("Hint: "))
		b.WriteString(e.Suggestion)
		b.WriteString("\n\n")
	}

	return b.String()
}

// FormatCompact returns a compact single-line error format.
func (e *Error) FormatCompact() string {
	var b strings.Builder

	if e.Location != nil {
		b.WriteString(e.Location.String())
		b.WriteString(": ")
	}

	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	return b.String()
}

// Plain returns the message and detail without styling, for the browser overlay.
func (e *Error) Plain() string {
	var b strings.Builder
	b.WriteString(e.FormatCompact())
	if e.Detail != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(e.Detail, "\n"))
	} else if e.Wrapped != nil {
		b.WriteString("\n\n")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Fprint writes a formatted error to w.
func Fprint(w io.Writer, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", styleError.Render("ERROR:"), err.Error())
}
