package cliutil

import (
	"strings"
)

// Wrap wraps the string `s` to a maximum width `w`.  Pass `w` == 0 to do no
// wrapping.
//
// In order to have some room for slop to avoid things like a short word being
// on a line by itself, most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// WrapIndent wraps the string `s` to a maximum width `w` with leading indent
// `i` on continuation lines.  The first line is not indented (this is assumed
// to be done by the caller).  Pass `w` == 0 to do no wrapping.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}

func wrap(indent, width int, s string) string {
	if width == 0 {
		return s
	}
	softWidth := width - 5
	if softWidth < indent+1 {
		softWidth = indent + 1
	}

	var out strings.Builder
	for pi, paragraph := range strings.Split(s, "\n\n") {
		if pi > 0 {
			out.WriteString("\n\n")
			out.WriteString(strings.Repeat(" ", indent))
		}
		lineLen := indent
		for wi, word := range strings.Fields(paragraph) {
			switch {
			case wi == 0:
				// first word goes on the line no matter what
			case lineLen+1+len(word) > softWidth:
				out.WriteString("\n")
				out.WriteString(strings.Repeat(" ", indent))
				lineLen = indent
			default:
				out.WriteString(" ")
				lineLen++
			}
			out.WriteString(word)
			lineLen += len(word)
		}
	}
	return out.String()
}
