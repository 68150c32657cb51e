// Package progress defines the event vocabulary the install pipeline emits
// as it works, and a Sink interface callers implement to observe it. zb
// itself ships no terminal renderer; a CLI wanting a progress bar builds
// one against this interface.
package progress

import "github.com/dustin/go-humanize"

// Event is one step of the install pipeline reporting what it's doing.
// Name identifies the formula the event is about; Detail is a short,
// human-readable elaboration (a URL, a byte count, a path).
type Event struct {
	Kind   Kind
	Name   string
	Detail string
	Total  int64 // total bytes, when Kind is DownloadStarted/DownloadProgress
	Done   int64 // bytes transferred so far, when Kind is DownloadProgress
}

// Kind enumerates the pipeline stages a Sink can be told about.
type Kind int

const (
	DownloadStarted Kind = iota
	DownloadProgress
	DownloadCompleted
	UnpackStarted
	UnpackCompleted
	LinkStarted
	LinkCompleted
	InstallCompleted
)

func (k Kind) String() string {
	switch k {
	case DownloadStarted:
		return "download started"
	case DownloadProgress:
		return "download progress"
	case DownloadCompleted:
		return "download completed"
	case UnpackStarted:
		return "unpack started"
	case UnpackCompleted:
		return "unpack completed"
	case LinkStarted:
		return "link started"
	case LinkCompleted:
		return "link completed"
	case InstallCompleted:
		return "install completed"
	default:
		return "unknown"
	}
}

// Sink receives pipeline events. Implementations must not block the
// caller for long; the install pipeline emits synchronously from the
// goroutine doing the work.
type Sink interface {
	Notify(Event)
}

// NoopSink discards every event. It is the default when a caller doesn't
// care to observe progress.
type NoopSink struct{}

func (NoopSink) Notify(Event) {}

// HumanSummary renders an event as a single human-readable line, using
// humanize for byte counts so a consuming CLI doesn't have to reimplement
// byte-formatting to build a simple logger atop this Sink.
func HumanSummary(e Event) string {
	switch e.Kind {
	case DownloadStarted:
		if e.Total > 0 {
			return e.Name + ": downloading " + humanize.Bytes(uint64(e.Total))
		}
		return e.Name + ": downloading"
	case DownloadProgress:
		return e.Name + ": " + humanize.Bytes(uint64(e.Done)) + " / " + humanize.Bytes(uint64(e.Total))
	case DownloadCompleted:
		return e.Name + ": downloaded"
	case UnpackStarted:
		return e.Name + ": unpacking"
	case UnpackCompleted:
		return e.Name + ": unpacked"
	case LinkStarted:
		return e.Name + ": linking"
	case LinkCompleted:
		return e.Name + ": linked"
	case InstallCompleted:
		return e.Name + ": installed " + e.Detail
	default:
		return e.Name + ": " + e.Kind.String()
	}
}

// MultiSink fans one event out to several sinks, used when both a CLI
// renderer and a log-file recorder need to observe the same pipeline run.
type MultiSink []Sink

func (m MultiSink) Notify(e Event) {
	for _, sink := range m {
		sink.Notify(e)
	}
}
