package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LoggerPatternConfig sets the level of every registered logger whose name matches Pattern. A
// `*` in the pattern matches any run of characters, e.g. "edukit.*".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

// e.g. "edukit", "edukit.l6474" or "edukit.*".
var loggerPatternRegexp = regexp.MustCompile(`^([a-zA-Z0-9_-]+|\*)(\.([a-zA-Z0-9_-]+|\*))*$`)

// Validate ensures the pattern is well formed and the level is known.
func (cfg LoggerPatternConfig) Validate() error {
	if !loggerPatternRegexp.MatchString(cfg.Pattern) {
		return errors.Errorf("invalid logger pattern %q", cfg.Pattern)
	}
	_, err := LevelFromString(cfg.Level)
	return err
}

func buildRegexFromPattern(pattern string) *regexp.Regexp {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return regexp.MustCompile(matcher.String())
}

// ApplyLoggerPatterns updates the level of every registered logger matched by a pattern. Later
// patterns win over earlier ones. It returns the names of the loggers it changed.
func ApplyLoggerPatterns(patterns []LoggerPatternConfig) ([]string, error) {
	var (
		errs    error
		updated []string
	)
	names := GetRegisteredLoggerNames()
	for _, cfg := range patterns {
		if err := cfg.Validate(); err != nil {
			errs = multierr.Combine(errs, err)
			continue
		}
		level, _ := LevelFromString(cfg.Level)
		matcher := buildRegexFromPattern(cfg.Pattern)
		for _, name := range names {
			if !matcher.MatchString(name) {
				continue
			}
			if err := UpdateLoggerLevel(name, level); err != nil {
				errs = multierr.Combine(errs, err)
				continue
			}
			updated = append(updated, name)
		}
	}
	return updated, errs
}
