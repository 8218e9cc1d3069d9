package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// Answers go to stdout; keep logs off it
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// GetEnvOrDefault gets an environment variable or returns a default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}

	return intValue
}

// GetEnvInt64 reads an int64, also accepting exponent notation such as "2e9"
func GetEnvInt64(varName string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(varName))
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return int64(f)
	}
	return defaultValue
}

// AcceptanceRow is one line of the acceptance summary
type AcceptanceRow struct {
	Index          int    `json:"index"`
	Question       string `json:"question"`
	Intent         string `json:"intent"`
	Shape          string `json:"shape,omitempty"`
	SQL            string `json:"sql,omitempty"`
	Stage          string `json:"stage,omitempty"`
	EstimatedBytes *int64 `json:"dry_run_bytes,omitempty"`
	LatencyMs      int64  `json:"latency_ms"`
	Rows           int    `json:"rows"`
	Answer         string `json:"answer"`
	Error          string `json:"error,omitempty"`
}

// PrintSchema prints the discovered columns of a table
func PrintSchema(w io.Writer, s models.Schema) {
	bold := color.New(color.Bold)

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	bold.Fprintf(w, "SCHEMA %s.%s\n", s.Dataset, s.Table)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	counts := make(map[models.DataType]int)
	for _, name := range s.Names() {
		col := s.Columns[name]
		counts[col.Type]++
		fmt.Fprintf(w, "   %-40s %s\n", name, col.RawType)
	}

	var types []string
	for t, n := range counts {
		types = append(types, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(types)
	fmt.Fprintf(w, "\nTotal columns: %d (%s)\n", s.Len(), strings.Join(types, ", "))
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// PrintAcceptanceSummary prints one block per question and a final tally.
// It returns the number of questions that ended with an error.
func PrintAcceptanceSummary(w io.Writer, rows []AcceptanceRow, showSQL bool) int {
	ok := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	faint := color.New(color.Faint)

	failures := 0
	for _, r := range rows {
		fmt.Fprintln(w, strings.Repeat("=", 100))
		fmt.Fprintf(w, "[%d] Q: %s\n", r.Index, r.Question)
		fmt.Fprintf(w, "- intent: %s\n", r.Intent)
		if r.Shape != "" {
			fmt.Fprintf(w, "- shape: %s\n", r.Shape)
		}
		fmt.Fprintf(w, "- latency_ms: %d\n", r.LatencyMs)
		if r.EstimatedBytes != nil {
			fmt.Fprintf(w, "- dry_run_bytes: %s (%s)\n", humanize.Comma(*r.EstimatedBytes), humanize.Bytes(uint64(*r.EstimatedBytes)))
		}
		if showSQL && r.SQL != "" {
			faint.Fprintf(w, "- sql: %s\n", r.SQL)
		}
		if r.Stage != "" {
			fmt.Fprintf(w, "- stage: %s\n", r.Stage)
		}
		if r.Error != "" {
			failures++
			fail.Fprintf(w, "- error: %s\n", r.Error)
		}
		fmt.Fprintf(w, "- answer: %s\n\n", r.Answer)
	}

	if failures > 0 {
		fail.Fprintf(w, "Finished with %d error(s) out of %d question(s)\n", failures, len(rows))
	} else {
		ok.Fprintf(w, "Finished successfully: %d question(s)\n", len(rows))
	}
	return failures
}
