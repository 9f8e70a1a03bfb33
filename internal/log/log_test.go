package log

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSetOutputWhileLogging(t *testing.T) {
	SetOutput(io.Discard)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				Info("tick", "n", j)
				Error("tock", errors.New("boom"))
			}
		}()
	}
	for i := 0; i < 50; i++ {
		SetOutput(io.Discard)
	}
	wg.Wait()

	out := &syncBuffer{}
	SetOutput(out)
	defer SetOutput(io.Discard)
	Warn("location cache miss", "key", "Ferry Building")
	if got := out.String(); !strings.Contains(got, "location cache miss") || !strings.Contains(got, "Ferry Building") {
		t.Errorf("output = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
