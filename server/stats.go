package server

import (
	"expvar"
	"time"
)

// expvarStats feeds the counters the graceful shutdown wrapper emits
// into an expvar map, so connection and stop numbers show up under
// /debug/vars next to everything else. It implements stats.Client.
type expvarStats struct {
	m *expvar.Map
}

// registered once; expvar panics on duplicate names.
var httpStats = expvarStats{m: expvar.NewMap("http")}

func (s expvarStats) BumpAvg(key string, val float64) {
	s.m.AddFloat(key+".sum", val)
	s.m.Add(key+".count", 1)
}

func (s expvarStats) BumpSum(key string, val float64) {
	s.m.AddFloat(key, val)
}

func (s expvarStats) BumpHistogram(key string, val float64) {
	s.BumpAvg(key, val)
}

func (s expvarStats) BumpTime(key string) interface{ End() } {
	return statTimer{key: key, start: time.Now(), sink: s}
}

type statTimer struct {
	key   string
	start time.Time
	sink  expvarStats
}

func (t statTimer) End() {
	t.sink.m.AddFloat(t.key+".ms", float64(time.Since(t.start))/float64(time.Millisecond))
	t.sink.m.Add(t.key+".count", 1)
}
