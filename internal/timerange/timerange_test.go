package timerange

import (
	"io"
	"testing"
	"time"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
)

func init() {
	appLog.SetOutput(io.Discard)
}

var july15 = model.DateRange{StartISO: "2023-07-15T00:00:00Z", EndISO: "2023-07-15T23:59:59Z"}

func TestInRange(t *testing.T) {
	tests := []struct {
		name  string
		event model.Event
		r     model.DateRange
		want  bool
	}{
		{
			name:  "starts on the last second of the range",
			event: model.Event{Start: "2023-07-15T23:59:59Z", End: "2023-07-16T02:00:00Z"},
			r:     july15,
			want:  true,
		},
		{
			name:  "ends on the first second of the range",
			event: model.Event{Start: "2023-07-14T20:00:00Z", End: "2023-07-15T00:00:00Z"},
			r:     july15,
			want:  true,
		},
		{
			name:  "entirely before",
			event: model.Event{Start: "2023-07-14T20:00:00Z", End: "2023-07-14T23:59:59Z"},
			r:     july15,
			want:  false,
		},
		{
			name:  "entirely after",
			event: model.Event{Start: "2023-07-16T00:00:00Z", End: "2023-07-16T01:00:00Z"},
			r:     july15,
			want:  false,
		},
		{
			name:  "spans the whole range",
			event: model.Event{Start: "2023-07-01T00:00:00Z", End: "2023-07-31T00:00:00Z"},
			r:     july15,
			want:  true,
		},
		{
			// 2023-07-15 20:00 in Los Angeles is 2023-07-16 03:00 UTC.
			name:  "naive wall clock in named zone shifts out of range",
			event: model.Event{Start: "2023-07-15T20:00:00", End: "2023-07-15T22:00:00", TZ: "America/Los_Angeles"},
			r:     july15,
			want:  false,
		},
		{
			// 2023-07-16 07:00 in Tokyo is 2023-07-15 22:00 UTC.
			name:  "naive wall clock in named zone shifts into range",
			event: model.Event{Start: "2023-07-16T07:00:00", End: "2023-07-16T08:00:00", TZ: "Asia/Tokyo"},
			r:     july15,
			want:  true,
		},
		{
			name:  "UNKNOWN sentinel is literal UTC",
			event: model.Event{Start: "2023-07-15T20:00:00", End: "2023-07-15T22:00:00", TZ: model.TZUnknown},
			r:     july15,
			want:  true,
		},
		{
			name:  "LOCAL sentinel is literal UTC",
			event: model.Event{Start: "2023-07-16T00:30:00", End: "2023-07-16T01:00:00", TZ: model.TZLocal},
			r:     july15,
			want:  false,
		},
		{
			name:  "explicit offset wins over tz",
			event: model.Event{Start: "2023-07-15T20:00:00Z", End: "2023-07-15T21:00:00Z", TZ: "America/Los_Angeles"},
			r:     july15,
			want:  true,
		},
		{
			name:  "invalid zone falls back to UTC",
			event: model.Event{Start: "2023-07-15T20:00:00", End: "2023-07-15T22:00:00", TZ: "Invalid/Zone"},
			r:     july15,
			want:  true,
		},
		{
			name:  "missing end uses start",
			event: model.Event{Start: "2023-07-15T12:00:00Z"},
			r:     july15,
			want:  true,
		},
		{
			name:  "date only start",
			event: model.Event{Start: "2023-07-15", End: "2023-07-15"},
			r:     july15,
			want:  true,
		},
		{
			name:  "unparseable start never matches",
			event: model.Event{Start: "next tuesday", End: "2023-07-15T12:00:00Z"},
			r:     july15,
			want:  false,
		},
		{
			name:  "inverted range matches nothing",
			event: model.Event{Start: "2023-07-15T12:00:00Z", End: "2023-07-15T13:00:00Z"},
			r:     model.DateRange{StartISO: july15.EndISO, EndISO: july15.StartISO},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InRange(tt.event, tt.r); got != tt.want {
				t.Errorf("InRange = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZone(t *testing.T) {
	for _, tz := range []string{"", model.TZUnknown, model.TZLocal} {
		if loc, ok := Zone(tz); loc != time.UTC || !ok {
			t.Errorf("Zone(%q) = %v, %v", tz, loc, ok)
		}
	}
	if loc, ok := Zone("Invalid/Zone"); loc != time.UTC || ok {
		t.Errorf("Zone(Invalid/Zone) = %v, %v", loc, ok)
	}
	// second lookup is served from the memo
	if _, ok := Zone("Invalid/Zone"); ok {
		t.Errorf("memoized invalid zone should stay invalid")
	}
	if loc, ok := Zone("Europe/Madrid"); !ok || loc.String() != "Europe/Madrid" {
		t.Errorf("Zone(Europe/Madrid) = %v, %v", loc, ok)
	}
}

func TestParseInstant(t *testing.T) {
	madrid, _ := Zone("Europe/Madrid")
	got, err := ParseInstant("2023-01-10T09:30", madrid)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2023, 1, 10, 8, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ParseInstant("  ", time.UTC); err == nil {
		t.Error("blank string should fail")
	}
}
