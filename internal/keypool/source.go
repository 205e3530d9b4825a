package keypool

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParsedKey is one usable entry from a key source file.
type ParsedKey struct {
	Value  string
	Weight float64
	Line   int
}

// ParseStats summarizes what the parser skipped or repaired.
type ParseStats struct {
	Invalid    int // lines with an empty key value
	Duplicates int // values repeated within the file, first occurrence wins
	Defaulted  int // weights that fell back to DefaultWeight
}

// ParseFile reads a key source file. See ParseReader for the format.
func ParseFile(path string, log *slog.Logger) ([]ParsedKey, ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("open key source: %w", err)
	}
	defer f.Close()

	return ParseReader(f, log)
}

// ParseReader parses the key source format: one key per line as
// "value" or "value:weight". Blank lines and lines starting with '#' are
// skipped. A weight that does not parse as a positive number falls back to
// DefaultWeight with a warning. When the same value appears more than once
// the first occurrence wins.
func ParseReader(r io.Reader, log *slog.Logger) ([]ParsedKey, ParseStats, error) {
	var (
		keys  []ParsedKey
		stats ParseStats
		seen  = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		value, weight, defaulted := splitKeyAndWeight(line)
		if value == "" {
			stats.Invalid++
			log.Warn("skipping key source line with empty value", slog.Int("line", lineNo))
			continue
		}

		if defaulted {
			stats.Defaulted++
			log.Warn("invalid weight in key source, using default",
				slog.Int("line", lineNo),
				slog.String("key", Redact(value)),
				slog.Float64("default", DefaultWeight),
			)
		}

		if _, dup := seen[value]; dup {
			stats.Duplicates++
			continue
		}
		seen[value] = struct{}{}

		keys = append(keys, ParsedKey{Value: value, Weight: weight, Line: lineNo})
	}

	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read key source: %w", err)
	}

	return keys, stats, nil
}

// splitKeyAndWeight separates "value:weight" at the last colon so key
// values containing colons keep working when a weight is present. A
// trailing segment that does not parse as a positive number counts as a
// bad weight for the value before the colon.
func splitKeyAndWeight(line string) (value string, weight float64, defaulted bool) {
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return line, DefaultWeight, false
	}

	value = strings.TrimSpace(line[:idx])
	rawWeight := strings.TrimSpace(line[idx+1:])

	parsed, err := strconv.ParseFloat(rawWeight, 64)
	if err != nil || parsed <= 0 {
		return value, DefaultWeight, true
	}

	return value, parsed, false
}
