// pprof export for the D_PROF device: the kernel's sampled cycle
// counters serialized as a pprof profile, so the profile a running
// system serves from /dev/prof opens directly in go tool pprof.
package stats

import (
	"bytes"
	"sync"

	"github.com/google/pprof/profile"
)

// sampled sites, keyed by a caller-chosen name (subsystem entry points
// register their Cycles_t counters here)
var profMu sync.Mutex
var profSites = make(map[string]*Cycles_t)

/// ProfRegister exposes a cycle counter under name in /dev/prof output.
func ProfRegister(name string, c *Cycles_t) {
	profMu.Lock()
	profSites[name] = c
	profMu.Unlock()
}

/// ProfileBytes renders every registered site as one pprof sample.
func ProfileBytes() ([]byte, error) {
	profMu.Lock()
	defer profMu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cycles", Unit: "count"}},
	}
	var id uint64 = 1
	for name, c := range profSites {
		fn := &profile.Function{ID: id, Name: name, SystemName: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		id++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(*c)},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
