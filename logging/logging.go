// Package logging configures the global logrus logger when imported with the
// blank identifier: level and format from the environment, trace ids from the
// entry context and redaction of secret fields.
package logging

import (
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Supported LOG_LEVEL values. Anything logrus parses is accepted too.
const (
	Debug = "DEBUG"
	Info  = "INFO"
	Warn  = "WARN"
	Error = "ERROR"
)

// Fields whose values never reach the output.
var secretFields = []string{"preimage", "macaroon", "db-password"}

const redacted = "[redacted]"

func init() {
	log.AddHook(&logrusContextHook{})
	log.AddHook(&logrusSecretFilterHook{fields: secretFields})

	level, err := levelFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
	log.SetFormatter(formatterFromEnv())

	// Filename and line number help when debugging.
	if level == log.DebugLevel {
		log.SetReportCaller(true)
	}
}

func levelFromEnv() (log.Level, error) {
	logLevel, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		logLevel = Info
	}

	return log.ParseLevel(strings.ToLower(logLevel))
}

// formatterFromEnv returns a new formatter based on LOG_FORMAT.
func formatterFromEnv() log.Formatter {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		return &log.JSONFormatter{}
	}

	return &log.TextFormatter{}
}

type logrusContextHook struct{}

func (hook *logrusContextHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire copies the trace and span ids of the span in the entry context, named
// after the Datadog convention so logs and traces correlate.
func (hook *logrusContextHook) Fire(entry *log.Entry) error {
	if entry.Context == nil {
		return nil
	}

	span := trace.SpanFromContext(entry.Context).SpanContext()
	if span.IsValid() {
		entry.Data["dd.trace_id"] = convertTraceID(span.TraceID().String())
		entry.Data["dd.span_id"] = convertTraceID(span.SpanID().String())
	}

	return nil
}

type logrusSecretFilterHook struct {
	fields []string
}

func (h *logrusSecretFilterHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *logrusSecretFilterHook) Fire(entry *log.Entry) error {
	for _, field := range h.fields {
		if _, ok := entry.Data[field]; ok {
			entry.Data[field] = redacted
		}
	}

	return nil
}

// Took from DD https://docs.datadoghq.com/tracing/other_telemetry/connect_logs_and_traces/opentelemetry?tab=go
func convertTraceID(id string) string {
	if len(id) < 16 {
		return ""
	}
	if len(id) > 16 {
		id = id[16:]
	}
	intValue, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return ""
	}

	return strconv.FormatUint(intValue, 10)
}
