package metrics

import "time"

// Outcome labels for ConversionFinished.
const (
	OutcomeOK          = "ok"
	OutcomeFetchError  = "fetch"
	OutcomeDecodeError = "decode"
	OutcomeRenderError = "render"
	OutcomeSendError   = "send"
)

var latencyBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// Set holds the application's metrics. A nil *Set is valid and records
// nothing.
type Set struct {
	collector *Collector
}

// NewSet registers application metrics on c.
func NewSet(c *Collector) *Set {
	return &Set{collector: c}
}

// Collector returns the underlying collector.
func (s *Set) Collector() *Collector {
	if s == nil {
		return nil
	}
	return s.collector
}

// MessageReceived counts an inbound message by kind.
func (s *Set) MessageReceived(kind string) {
	if s == nil {
		return
	}
	s.collector.Counter("messages_total", "Inbound messages by kind", Labels("kind", kind)).Inc()
}

// ConversionFinished counts a conversion by outcome and records its
// latency.
func (s *Set) ConversionFinished(outcome string, took time.Duration) {
	if s == nil {
		return
	}
	s.collector.Counter("conversions_total", "Sticker conversions by outcome", Labels("outcome", outcome)).Inc()
	s.collector.Histogram("conversion_seconds", "End-to-end conversion latency", "", latencyBuckets).ObserveDuration(took)
}

// RenderFinished records render latency.
func (s *Set) RenderFinished(took time.Duration) {
	if s == nil {
		return
	}
	s.collector.Histogram("render_seconds", "Rendering engine latency", "", latencyBuckets).ObserveDuration(took)
}

// Delivery counts an HTTP delivery by mode ("download" or "inline") and
// status code.
func (s *Set) Delivery(mode string, status int) {
	if s == nil {
		return
	}
	s.collector.Counter("deliveries_total", "HTTP deliveries by mode and status",
		Labels("mode", mode, "status", itoa(status))).Inc()
}

// CacheLookup counts a delivery cache hit or miss.
func (s *Set) CacheLookup(hit bool) {
	if s == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.collector.Counter("cache_lookups_total", "Delivery cache lookups", Labels("result", result)).Inc()
}

// ScratchLive reports the number of live scratch resources.
func (s *Set) ScratchLive(n int64) {
	if s == nil {
		return
	}
	s.collector.Gauge("scratch_live", "Scratch resources acquired but not released", "").Set(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
