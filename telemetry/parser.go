package telemetry

import "strings"

// ParseLines applies every "Key = Value" line in chunk to state.
//
// Blank lines are skipped. A line with zero or more than one '=' is dropped
// without touching state, this is how partial lines from the serial stream
// are handled. Later lines overwrite earlier ones for the same key.
func ParseLines(chunk string, state *State) {
	for _, line := range strings.Split(chunk, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "=")
		if len(parts) != 2 {
			continue
		}
		state.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

// LineAssembler joins lines that were split across chunks.
// It is only used when line reassembly is turned on, by default each chunk is
// parsed on its own.
type LineAssembler struct {
	pending string
}

// Feed returns the complete lines available after adding chunk. Anything after
// the last newline is held back until the next call.
func (a *LineAssembler) Feed(chunk string) string {
	data := a.pending + chunk
	i := strings.LastIndexByte(data, '\n')
	if i < 0 {
		a.pending = data
		return ""
	}
	a.pending = data[i+1:]
	return data[:i+1]
}

// Pending returns the unterminated tail currently buffered.
func (a *LineAssembler) Pending() string {
	return a.pending
}
