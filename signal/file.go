package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileSource re-reads a YAML or JSON candidate file on every call so an
// external scorer can rewrite it between cycles.
type FileSource struct {
	Path   string
	MaxAge time.Duration // plans with AsOf older than this are ignored
}

type candidateFile struct {
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Candidates  []TradePlan `json:"candidates" yaml:"candidates"`
}

func (f *FileSource) GetCandidates(ctx context.Context, symbols []string, asOf time.Time) ([]TradePlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}

	var cf candidateFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		if jerr := json.Unmarshal(data, &cf); jerr != nil {
			return nil, fmt.Errorf("parse candidates (tried YAML and JSON): %w", err)
		}
	}

	plans := filter(cf.Candidates, symbols)
	if f.MaxAge <= 0 {
		return plans, nil
	}
	out := plans[:0]
	for _, p := range plans {
		ts := p.AsOf
		if ts.IsZero() {
			ts = cf.GeneratedAt
		}
		if !ts.IsZero() && asOf.Sub(ts) > f.MaxAge {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
