package ldclient

import (
	"fmt"
	"strings"
	"sync"
)

// mockLogger captures log output for tests that need to assert on it.
type mockLogger struct {
	lock   sync.Mutex
	output []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{}
}

func (l *mockLogger) append(line string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.output = append(l.output, line)
}

func (l *mockLogger) getOutput() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.output...)
}

func (l *mockLogger) Println(values ...interface{}) {
	l.append(strings.TrimSuffix(fmt.Sprintln(values...), "\n"))
}

func (l *mockLogger) Printf(format string, values ...interface{}) {
	l.append(fmt.Sprintf(format, values...))
}

// valueThatPanicsWhenMarshalledToJSON simulates a misbehaving custom attribute type.
type valueThatPanicsWhenMarshalledToJSON string

func (v valueThatPanicsWhenMarshalledToJSON) MarshalJSON() ([]byte, error) {
	panic(string(v))
}
