package telemetry

// Field names reported by the UPS firmware, plus the ones derived here.
const (
	KeyBatteryVoltage        = "Battery voltage"
	KeyDischargeCurrent      = "Battery discharge current"
	KeyBatteryVoltageAverage = "Battery voltage average"
	KeyRemaining             = "iRemaining_real"
)

// State holds the latest raw value seen for each field.
// Keys keep the order they were first written in and are never removed.
// State is not safe for concurrent use, Processor guards it.
type State struct {
	keys   []string
	values map[string]string
}

func NewState() *State {
	return &State{values: map[string]string{}}
}

// Set creates or overwrites the value for key.
func (s *State) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

func (s *State) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *State) Len() int {
	return len(s.keys)
}

// Each calls fn for every field in insertion order.
func (s *State) Each(fn func(key, value string)) {
	for _, k := range s.keys {
		fn(k, s.values[k])
	}
}

// Map returns a copy of the fields as a plain map.
func (s *State) Map() map[string]string {
	m := make(map[string]string, len(s.values))
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

func (s *State) Clone() *State {
	c := &State{
		keys:   make([]string, len(s.keys)),
		values: s.Map(),
	}
	copy(c.keys, s.keys)
	return c
}
