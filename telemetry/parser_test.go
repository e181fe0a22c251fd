package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLines(t *testing.T) {
	state := NewState()
	ParseLines("Battery voltage = 11800mV\nBattery discharge current=1000mA\n\n   \nStatus =  OK  \n", state)

	require.Equal(t, 3, state.Len())
	assert.Equal(t, map[string]string{
		"Battery voltage":           "11800mV",
		"Battery discharge current": "1000mA",
		"Status":                    "OK",
	}, state.Map())
}

func TestParseLinesLastOccurrenceWins(t *testing.T) {
	state := NewState()
	ParseLines("Status = OK\nStatus = LOW\n", state)
	v, ok := state.Get("Status")
	require.True(t, ok)
	assert.Equal(t, "LOW", v)
}

func TestParseLinesKeepsInsertionOrder(t *testing.T) {
	state := NewState()
	ParseLines("b = 1\na = 2\n", state)
	ParseLines("c = 3\nb = 4\n", state)

	var keys []string
	state.Each(func(key, _ string) { keys = append(keys, key) })
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestParseLinesMalformedLeavesStateUnchanged(t *testing.T) {
	state := NewState()
	ParseLines("Battery voltage = 11800mV\n", state)
	before := state.Map()

	malformed := []string{
		"no separator here",
		"a = b = c",
		"==",
		"00mV",
		"x = y = z = w\nanother bad line",
	}
	for _, line := range malformed {
		ParseLines(line, state)
		assert.Equal(t, before, state.Map(), "line %q", line)
	}
}

func TestParseLinesChunkingInvariance(t *testing.T) {
	lines := []string{
		"Battery voltage = 11800mV",
		"Battery discharge current = 1000mA",
		"Status = OK",
		"Battery voltage = 11750mV",
		"Temp = 23.5 C",
	}

	whole := NewState()
	ParseLines(strings.Join(lines, "\n")+"\n", whole)

	single := NewState()
	for _, l := range lines {
		ParseLines(l+"\n", single)
	}

	paired := NewState()
	for i := 0; i < len(lines); i += 2 {
		end := i + 2
		if end > len(lines) {
			end = len(lines)
		}
		ParseLines(strings.Join(lines[i:end], "\n"), paired)
	}

	assert.Equal(t, whole.Map(), single.Map())
	assert.Equal(t, whole.Map(), paired.Map())
}

func TestLineAssembler(t *testing.T) {
	var a LineAssembler

	assert.Equal(t, "", a.Feed("Battery vol"))
	assert.Equal(t, "Battery vol", a.Pending())

	assert.Equal(t, "Battery voltage = 11800mV\n", a.Feed("tage = 11800mV\nStat"))
	assert.Equal(t, "Stat", a.Pending())

	assert.Equal(t, "Status = OK\nTemp = 23 C\n", a.Feed("us = OK\nTemp = 23 C\n"))
	assert.Equal(t, "", a.Pending())
}

func TestLineAssemblerFeedsParser(t *testing.T) {
	var a LineAssembler
	state := NewState()
	for _, chunk := range []string{"Battery voltage = 118", "00mV\nBattery dis", "charge current = 1000mA\n"} {
		ParseLines(a.Feed(chunk), state)
	}
	assert.Equal(t, map[string]string{
		"Battery voltage":           "11800mV",
		"Battery discharge current": "1000mA",
	}, state.Map())
}

func TestStateClone(t *testing.T) {
	state := NewState()
	state.Set("a", "1")
	clone := state.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	v, _ := state.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, state.Len())
	assert.Equal(t, 2, clone.Len())
}
