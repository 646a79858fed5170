package protocol

import (
	"strconv"
	"strings"
)

// Render renders a value in its wire form. Strings are quoted only
// when rendering them verbatim would be ambiguous on reparse: when
// they contain a space or a double quote, when they are all decimal
// digits, or when they collide with a reserved word.
func Render(value Value) string {
	switch value.Kind {
	case KindNil:
		return "NIL"
	case KindBoolean:
		if value.Bool {
			return "TRUE"
		}

		return "FALSE"
	case KindInteger:
		return strconv.FormatInt(value.Int, 10)
	}

	if needsQuoting(value.Str) {
		return quote(value.Str)
	}

	return value.Str
}

// FormatSuccess renders the outcome of a successful command
func FormatSuccess(outcome Outcome) string {
	switch result := outcome.(type) {
	case SetResult:
		return Render(result.Old) + " " + Render(result.New)
	case *SetResult:
		return Render(result.Old) + " " + Render(result.New)
	case ValueResult:
		return Render(result.Value)
	case *ValueResult:
		return Render(result.Value)
	}

	return "OK"
}

// FormatError renders an error in its wire form. The message is the
// error text with inner quotes escaped.
func FormatError(err error) string {
	return "ERR " + quote(err.Error())
}

func needsQuoting(s string) bool {
	if strings.ContainsAny(s, " \"") {
		return true
	}

	if digitRun.MatchString(s) {
		return true
	}

	switch s {
	case "TRUE", "FALSE", "NIL":
		return true
	}

	return false
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
