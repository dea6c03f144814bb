package notify

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Severity is the operator-facing importance of a notification.
type Severity int

// Severities ordered from least to most important.
const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityTrace:       "trace",
	SeverityDebug:       "debug",
	SeverityInformation: "information",
	SeverityWarning:     "warning",
	SeverityError:       "error",
	SeverityCritical:    "critical",
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by String plus "info" and "warn".
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a severity name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return SeverityTrace, nil
	case "debug":
		return SeverityDebug, nil
	case "information", "info":
		return SeverityInformation, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityTrace, fmt.Errorf("unknown severity %q", name)
}

// PriorityFor maps a severity onto the push service's 0-9 priority scale.
func PriorityFor(s Severity) int {
	switch s {
	case SeverityCritical:
		return 9
	case SeverityError:
		return 8
	case SeverityWarning:
		return 5
	case SeverityInformation:
		return 2
	case SeverityDebug:
		return 1
	default:
		return 0
	}
}

// SeverityFor maps an inbound priority back onto a severity.
func SeverityFor(priority int) Severity {
	switch {
	case priority == 9:
		return SeverityCritical
	case priority == 8:
		return SeverityError
	case priority >= 5 && priority <= 7:
		return SeverityWarning
	case priority >= 2 && priority <= 4:
		return SeverityInformation
	case priority == 1:
		return SeverityDebug
	default:
		return SeverityTrace
	}
}

func zapLevel(s Severity) zapcore.Level {
	switch s {
	case SeverityCritical, SeverityError:
		return zapcore.ErrorLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityInformation:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
