// Package sheet serves "csv:<id>" sources from spreadsheets published as
// CSV. Expected columns (header row, any order, case-insensitive):
// id, name, description, start, end, location, tz. Only name and start are
// required.
package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/chadn/cmf-sub002/internal/config"
	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
	"github.com/chadn/cmf-sub002/internal/source"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

// Prefix is the source id prefix handled by Adapter.
const Prefix = "csv:"

const naiveLayout = "2006-01-02T15:04:05"

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("sheet: missing required column")

// Adapter implements source.Adapter over published CSV sheets.
type Adapter struct {
	client *http.Client
	sheets map[string]config.SourceConfig
	when   *when.Parser
}

// NewAdapter indexes sheets by id. Duplicate ids keep the first entry.
func NewAdapter(sheets []config.SourceConfig, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	a := &Adapter{
		client: &http.Client{Timeout: timeout},
		sheets: make(map[string]config.SourceConfig, len(sheets)),
		when:   w,
	}
	for _, s := range sheets {
		if _, dup := a.sheets[s.ID]; dup {
			appLog.Warn("duplicate sheet id ignored", "id", s.ID)
			continue
		}
		a.sheets[s.ID] = s
	}
	return a
}

// Fetch downloads the sheet named by sourceID and returns the rows that
// overlap w. Free-text dates are read relative to w.TimeMin.
func (a *Adapter) Fetch(ctx context.Context, sourceID string, w source.Window) (model.SourceResponse, error) {
	_, id, ok := source.SplitID(sourceID)
	sheet, found := a.sheets[id]
	if !ok || !found {
		return model.SourceResponse{}, fmt.Errorf("%w: %s", source.ErrUnknownSource, sourceID)
	}

	matcher, err := timerange.NewMatcher(model.DateRange{
		StartISO: w.TimeMin.UTC().Format(time.RFC3339),
		EndISO:   w.TimeMax.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.SourceResponse{}, fmt.Errorf("sheet: %w", err)
	}

	body, err := a.download(ctx, sheet.URL)
	if err != nil {
		return model.SourceResponse{}, fmt.Errorf("sheet %s: %w", id, err)
	}
	defer body.Close()

	rows, err := a.parse(sourceID, body, w.TimeMin)
	if err != nil {
		return model.SourceResponse{}, fmt.Errorf("sheet %s: %w", id, err)
	}

	events := make([]model.Event, 0, len(rows))
	for _, e := range rows {
		if matcher.Contains(e) {
			events = append(events, e)
		}
	}

	name := sheet.Name
	if name == "" {
		name = id
	}
	appLog.Info("sheet source loaded", "source", sourceID, "rows", len(rows), "events", len(events))
	return model.SourceResponse{
		Events: events,
		Source: model.SourceInfo{
			ID:         sourceID,
			Name:       name,
			TotalCount: len(events),
			URL:        sheet.URL,
		},
	}, nil
}

func (a *Adapter) download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &source.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}

type columns map[string]int

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parse reads every data row. Rows whose start cannot be read are logged
// and skipped.
func (a *Adapter) parse(sourceID string, r io.Reader, base time.Time) ([]model.Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return []model.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(columns, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, req := range []string{"name", "start"} {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}

	out := make([]model.Event, 0)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e, err := a.rowEvent(sourceID, cols, rec, base)
		if err != nil {
			appLog.Warn("sheet row skipped", "source", sourceID, "line", line, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (a *Adapter) rowEvent(sourceID string, cols columns, rec []string, base time.Time) (model.Event, error) {
	e := model.Event{
		ID:          cols.get(rec, "id"),
		Name:        cols.get(rec, "name"),
		Description: cols.get(rec, "description"),
		Location:    cols.get(rec, "location"),
		TZ:          cols.get(rec, "tz"),
	}
	if e.Name == "" {
		return e, errors.New("empty name")
	}

	start, err := a.readTime(cols.get(rec, "start"), e.TZ, base)
	if err != nil {
		return e, fmt.Errorf("start: %w", err)
	}
	e.Start = start
	e.End = start
	if raw := cols.get(rec, "end"); raw != "" {
		end, err := a.readTime(raw, e.TZ, base)
		if err != nil {
			return e, fmt.Errorf("end: %w", err)
		}
		e.End = end
	}

	if e.ID == "" {
		key := strings.Join([]string{sourceID, e.Name, e.Start, e.Location}, "|")
		e.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	}
	return e, nil
}

// readTime returns ISO-8601 input unchanged. Anything else is parsed as
// free text relative to base in the row's zone and written back as wall
// clock for named zones or as a UTC instant otherwise.
func (a *Adapter) readTime(raw, tz string, base time.Time) (string, error) {
	if raw == "" {
		return "", timerange.ErrEmptyTime
	}
	loc, named := timerange.Zone(tz)
	if _, err := timerange.ParseInstant(raw, loc); err == nil {
		return raw, nil
	}

	res, err := a.when.Parse(raw, base.In(loc))
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("unrecognised time %q", raw)
	}
	switch tz {
	case "", model.TZUnknown, model.TZLocal:
		named = false
	}
	if named {
		return res.Time.In(loc).Format(naiveLayout), nil
	}
	return res.Time.UTC().Format(time.RFC3339), nil
}
