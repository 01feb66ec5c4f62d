// Package protocol implements the line protocol spoken by the ESP32 Wi-Fi
// console firmware: escape stripping, log/response classification, and
// positional command/response correlation over a line-oriented connection.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// CSI sequences: ESC '[' params letter.
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// ESP-IDF log line: "I (1234) TAG: message". Tags may hold any letter
	// or digit, not only ASCII.
	logPattern = regexp.MustCompile(`^([IWE]) \((\d+)\) ([\p{L}\p{N}_]+): (.*)$`)
)

// Kind is the classification of a cleaned line.
type Kind int

const (
	KindEmpty Kind = iota
	KindLog
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLog:
		return "log"
	case KindData:
		return "data"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Clean removes ANSI CSI escape sequences from raw and trims surrounding
// whitespace. Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	// Removing one sequence can join ESC and '[' from its neighbours into a
	// new one, so strip until nothing matches.
	for {
		stripped := csiPattern.ReplaceAllString(raw, "")
		if stripped == raw {
			break
		}
		raw = stripped
	}
	return strings.TrimSpace(raw)
}

// IsLogLine reports whether a cleaned line is device log output.
func IsLogLine(cleaned string) bool {
	return logPattern.MatchString(cleaned)
}

// Classify returns the Kind of a cleaned line. An empty line is neither a
// log line nor a data line.
func Classify(cleaned string) Kind {
	switch {
	case cleaned == "":
		return KindEmpty
	case IsLogLine(cleaned):
		return KindLog
	default:
		return KindData
	}
}

// LogLine is the parsed form of a device log line.
type LogLine struct {
	Severity  byte   // 'I', 'W' or 'E'
	Timestamp uint64 // milliseconds since boot
	Tag       string
	Message   string
}

// ParseLogLine splits a cleaned log line into its fields.
func ParseLogLine(cleaned string) (LogLine, bool) {
	m := logPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return LogLine{}, false
	}
	// \d+ can overflow uint64; the line is still a log line.
	ts, _ := strconv.ParseUint(m[2], 10, 64)
	return LogLine{
		Severity:  m[1][0],
		Timestamp: ts,
		Tag:       m[3],
		Message:   m[4],
	}, true
}

// Level maps the severity letter to a name usable as a log attribute.
func (l LogLine) Level() string {
	switch l.Severity {
	case 'E':
		return "error"
	case 'W':
		return "warn"
	default:
		return "info"
	}
}
