package etl

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Source pulls one JSON document out of an external system for an ingest
// job. The locator, not the source, decides where the records sit in it;
// dataPath options only narrow the document first.
type Source interface {
	Spec() SourceSpec
	Fetch(ctx context.Context, cfg SourceConfig) ([]byte, error)
}

// SourceSpec is what clients render a job form from.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// ConfigField is one option of a source. Type is one of string, number,
// select, textarea or file; Options lists the choices of a select.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceConfig holds a job's decoded source options.
type SourceConfig map[string]any

// String reads key as text. Numbers and bools written unquoted in the job
// config are formatted; anything else reads as "".
func (c SourceConfig) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case float64, int, int64, bool:
		return cast.ToString(v)
	}
	return ""
}

// ── Registry ───────────────────────────────────────────────
// Sources register themselves from init() in etl/sources.

var sources = struct {
	sync.RWMutex
	byType map[string]Source
}{byType: map[string]Source{}}

// RegisterSource adds s under s.Spec().Type, replacing any earlier one.
func RegisterSource(s Source) {
	sources.Lock()
	sources.byType[s.Spec().Type] = s
	sources.Unlock()
}

func GetSource(typ string) (Source, error) {
	sources.RLock()
	s, ok := sources.byType[typ]
	sources.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all sources ordered by type.
func ListSources() []SourceSpec {
	sources.RLock()
	defer sources.RUnlock()
	types := lo.Keys(sources.byType)
	slices.Sort(types)
	return lo.Map(types, func(t string, _ int) SourceSpec { return sources.byType[t].Spec() })
}
