// Package trace holds the per-trace call recording and a sandboxed runner that
// replays an instrumented script to produce one without a browser.
package trace

import "strconv"

// Event is one completed call reported by instrumented code.
type Event struct {
	FunctionName   string
	FirstTimestamp float64
	LastTimestamp  float64
	Arguments      []any
}

// Recording accumulates call identifiers and argument snapshots for a single
// trace. Calls and Args are index-aligned.
type Recording struct {
	Calls []string `json:"calls"`
	Args  [][]any  `json:"args"`
}

// Record appends e to both sequences.
func (r *Recording) Record(e Event) {
	r.Calls = append(r.Calls, CallID(e.FunctionName, e.FirstTimestamp, e.LastTimestamp))
	r.Args = append(r.Args, e.Arguments)
}

// Len returns the number of recorded calls.
func (r *Recording) Len() int {
	return len(r.Calls)
}

// CallID formats "<name>-<first>-<last>" with timestamps as plain numbers.
func CallID(name string, first, last float64) string {
	return name + "-" + formatNumber(first) + "-" + formatNumber(last)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
