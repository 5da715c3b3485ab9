// Package logging implements the fault/log sink described for the
// transaction core: per-context severity thresholds, a capped set of
// sinks, and a critical path that terminates the process.
//
// The shape follows the teacher's hand-rolled logger (stdlib log.Logger
// underneath, no third-party logging library) generalized from a single
// global sink to the spec's per-subsystem, per-severity model.
package logging

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
)

// Context is a closed enumeration of subsystems, one per major component.
type Context int

const (
	CtxMisc Context = iota
	CtxWire
	CtxReactor
	CtxFDTable
	CtxTxn
	CtxReqHash
	CtxBatch
	CtxUDF
	CtxReply
	CtxTicker
	CtxStats
	CtxStorage
	CtxReplication
	CtxAdmission
	CtxConfig
	numContexts
)

func (c Context) String() string {
	switch c {
	case CtxWire:
		return "wire"
	case CtxReactor:
		return "reactor"
	case CtxFDTable:
		return "fdtable"
	case CtxTxn:
		return "txn"
	case CtxReqHash:
		return "reqhash"
	case CtxBatch:
		return "batch"
	case CtxUDF:
		return "udf"
	case CtxReply:
		return "reply"
	case CtxTicker:
		return "ticker"
	case CtxStats:
		return "stats"
	case CtxStorage:
		return "storage"
	case CtxReplication:
		return "replication"
	case CtxAdmission:
		return "admission"
	case CtxConfig:
		return "config"
	default:
		return "misc"
	}
}

// Severity is an ordered enumeration; lower values are more severe.
type Severity int32

const (
	Critical Severity = iota
	Warning
	Info
	Debug
	Detail
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "CRITICAL"
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Detail:
		return "DETAIL"
	default:
		return "UNKNOWN"
	}
}

// maxSinks bounds the number of concurrently registered sinks.
const maxSinks = 8

// BinaryStyle selects how binary payloads are rendered by LogBinary.
type BinaryStyle int

const (
	StyleHexDigest BinaryStyle = iota
	StyleHexSpaced
	StyleHexPacked
	StyleHexColumns
	StyleBase64
	StyleBitsSpaced
	StyleBitsColumns
)

type sink struct {
	logger     *log.Logger
	file       *os.File
	path       string // empty for stdout sinks
	thresholds [numContexts]atomic.Int32
}

func newSink(w *os.File, path string) *sink {
	s := &sink{
		logger: log.New(w, "", 0),
		file:   w,
		path:   path,
	}
	for i := range s.thresholds {
		s.thresholds[i].Store(int32(Info))
	}
	return s
}

func (s *sink) threshold(ctx Context) Severity {
	return Severity(s.thresholds[ctx].Load())
}

// Facility owns the set of sinks and dispatches log calls to them.
type Facility struct {
	mu    sync.Mutex
	sinks []*sink

	// PanicFunc is invoked instead of os.Exit on a critical message,
	// so tests can observe the assertion firing without killing the
	// test binary. Production wires this to a real process exit.
	PanicFunc func(msg string)
}

// Filter is the fast-path pre-filter: Filter[ctx] holds the most permissive
// threshold across all sinks for that context, so call sites can
// short-circuit argument evaluation cheaply before calling Log.
var Filter [numContexts]atomic.Int32

func init() {
	for i := range Filter {
		Filter[i].Store(int32(Info))
	}
}

// New constructs a Facility with a single stdout sink at Info threshold.
func New() *Facility {
	f := &Facility{PanicFunc: defaultPanic}
	f.sinks = append(f.sinks, newSink(os.Stdout, ""))
	return f
}

func defaultPanic(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	fmt.Fprintln(os.Stderr, string(debug.Stack()))
	os.Exit(1)
}

// AddFileSink opens (or creates) a file-backed sink. Returns an error if the
// sink cap has been reached or the file cannot be opened.
func (f *Facility) AddFileSink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sinks) >= maxSinks {
		return fmt.Errorf("logging: sink cap (%d) reached", maxSinks)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logging: open sink %s: %w", path, err)
	}
	f.sinks = append(f.sinks, newSink(file, path))
	return nil
}

// SetThreshold sets the severity threshold for a context on every sink, or
// on a single named sink path if sinkPath is non-empty.
func (f *Facility) SetThreshold(ctx Context, sev Severity, sinkPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sinks {
		if sinkPath != "" && s.path != sinkPath {
			continue
		}
		s.thresholds[ctx].Store(int32(sev))
	}
	f.recomputeFilter(ctx)
}

// recomputeFilter must be called with f.mu held.
func (f *Facility) recomputeFilter(ctx Context) {
	most := Critical
	for _, s := range f.sinks {
		if t := s.threshold(ctx); t > most {
			most = t
		}
	}
	Filter[ctx].Store(int32(most))
}

// Log emits a message if sev is at-or-below the context's threshold in at
// least one sink.
func (f *Facility) Log(ctx Context, sev Severity, file string, line int, format string, args ...interface{}) {
	if Severity(Filter[ctx].Load()) < sev {
		return
	}
	f.mu.Lock()
	sinks := f.sinks
	f.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	line0 := fmt.Sprintf("%s:%d %s (%s) %s", file, line, sev, ctx, msg)
	for _, s := range sinks {
		if sev > s.threshold(ctx) {
			continue
		}
		s.logger.Println(line0)
	}

	if sev == Critical {
		f.critical(line0)
	}
}

// Criticalf logs at Critical and terminates the process (via PanicFunc).
func (f *Facility) Criticalf(ctx Context, file string, line int, format string, args ...interface{}) {
	f.Log(ctx, Critical, file, line, format, args...)
}

// CriticalNoStack is identical to Criticalf but skips stack collection, for
// use from within the critical path itself to avoid recursion.
func (f *Facility) CriticalNoStack(ctx Context, msg string) {
	f.mu.Lock()
	sinks := f.sinks
	f.mu.Unlock()
	line0 := fmt.Sprintf("(%s) CRITICAL-NOSTACK %s", ctx, msg)
	for _, s := range sinks {
		s.logger.Println(line0)
	}
	if f.PanicFunc != nil {
		f.PanicFunc(line0)
	} else {
		os.Exit(1)
	}
}

func (f *Facility) critical(line0 string) {
	if f.PanicFunc != nil {
		f.PanicFunc(line0)
		return
	}
	fmt.Fprintln(os.Stderr, string(debug.Stack()))
	os.Exit(1)
}

// Roll reopens every file-backed sink at its existing path, to cooperate
// with external log rotation (e.g. logrotate's copytruncate).
func (f *Facility) Roll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sinks {
		if s.path == "" {
			continue
		}
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("logging: close %s during roll: %w", s.path, err)
		}
		file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("logging: reopen %s during roll: %w", s.path, err)
		}
		s.file = file
		s.logger = log.New(file, "", 0)
	}
	return nil
}

// LogBinary renders a binary payload per the requested display style and
// emits it at Detail severity.
func (f *Facility) LogBinary(ctx Context, style BinaryStyle, label string, data []byte) {
	if Severity(Filter[ctx].Load()) < Detail {
		return
	}
	f.Log(ctx, Detail, "", 0, "%s: %s", label, renderBinary(style, data))
}

func renderBinary(style BinaryStyle, data []byte) string {
	switch style {
	case StyleHexDigest:
		return fmt.Sprintf("%x", data)
	case StyleHexSpaced:
		parts := make([]string, len(data))
		for i, b := range data {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		return strings.Join(parts, " ")
	case StyleHexPacked:
		return fmt.Sprintf("%x", data)
	case StyleHexColumns:
		var b strings.Builder
		for i := 0; i < len(data); i += 16 {
			end := i + 16
			if end > len(data) {
				end = len(data)
			}
			fmt.Fprintf(&b, "%04x  % x\n", i, data[i:end])
		}
		return b.String()
	case StyleBase64:
		return base64.StdEncoding.EncodeToString(data)
	case StyleBitsSpaced:
		parts := make([]string, len(data))
		for i, bt := range data {
			parts[i] = fmt.Sprintf("%08b", bt)
		}
		return strings.Join(parts, " ")
	case StyleBitsColumns:
		var b strings.Builder
		for i := 0; i < len(data); i += 8 {
			end := i + 8
			if end > len(data) {
				end = len(data)
			}
			for _, bt := range data[i:end] {
				fmt.Fprintf(&b, "%08b ", bt)
			}
			b.WriteByte('\n')
		}
		return b.String()
	default:
		return fmt.Sprintf("%x", data)
	}
}

// Close releases every file-backed sink.
func (f *Facility) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, s := range f.sinks {
		if s.path == "" {
			continue
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
