package source

import (
	"github.com/chadn/cmf-sub002/internal/metrics"
	"github.com/chadn/cmf-sub002/internal/model"
)

// Aggregated is the merged result of several source responses.
type Aggregated struct {
	Events  []model.Event      `json:"events"`
	Sources []model.SourceInfo `json:"sources"`
	// Duplicates holds ids dropped because an earlier source already had them.
	Duplicates []string `json:"duplicates,omitempty"`
}

// Aggregate merges responses in order. With more than one response every
// event gets a 1-based SourceIndex; with one, events are left as they are.
// Across sources, the first event seen for an id wins.
func Aggregate(responses []model.SourceResponse) Aggregated {
	out := Aggregated{
		Events:  []model.Event{},
		Sources: make([]model.SourceInfo, 0, len(responses)),
	}
	stamp := len(responses) > 1
	seen := make(map[string]struct{})

	for i, resp := range responses {
		out.Sources = append(out.Sources, resp.Source)
		// ids seen in this response; duplicates inside one source are kept
		local := make([]string, 0, len(resp.Events))
		for _, e := range resp.Events {
			if _, dup := seen[e.ID]; dup {
				out.Duplicates = append(out.Duplicates, e.ID)
				continue
			}
			if stamp {
				e.SourceIndex = i + 1
			}
			out.Events = append(out.Events, e)
			local = append(local, e.ID)
		}
		for _, id := range local {
			seen[id] = struct{}{}
		}
	}

	if n := len(out.Duplicates); n > 0 {
		metrics.DuplicateEventsDropped.Add(float64(n))
	}
	return out
}
