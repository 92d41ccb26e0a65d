// Package report renders verification runs into Markdown investigation notes
// and machine-readable JSON artifacts.
package report

import (
	"encoding/json"
	"eth2-verifier/types"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("module", "report")

// Summary counts results by outcome.
type Summary struct {
	Match    int `json:"match"`
	Mismatch int `json:"mismatch"`
	Skipped  int `json:"skipped"`
	Error    int `json:"error"`
}

func Summarize(results []*types.ComparisonResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case types.StatusMatch:
			s.Match++
		case types.StatusMismatch:
			s.Mismatch++
		case types.StatusSkipped:
			s.Skipped++
		case types.StatusError:
			s.Error++
		}
	}
	return s
}

// Clean reports whether the run produced neither mismatches nor errors.
func (s Summary) Clean() bool {
	return s.Mismatch == 0 && s.Error == 0
}

// EpochReport is one (validator, epoch) investigation.
type EpochReport struct {
	Network     string                    `json:"network"`
	Validator   uint64                    `json:"validator_index"`
	Epoch       uint64                    `json:"epoch"`
	ForkPhase   string                    `json:"fork_phase"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Results     []*types.ComparisonResult `json:"results"`
	Summary     Summary                   `json:"summary"`
}

func NewEpochReport(network string, validator, epoch uint64, results []*types.ComparisonResult) *EpochReport {
	r := &EpochReport{
		Network:     network,
		Validator:   validator,
		Epoch:       epoch,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Summary:     Summarize(results),
	}
	if len(results) > 0 {
		r.ForkPhase = results[0].ForkPhase
	}
	return r
}

// EpochSection is one sampled epoch inside a historical report.
type EpochSection struct {
	Sampled types.SampledEpoch        `json:"sampled"`
	Results []*types.ComparisonResult `json:"results"`
	Summary Summary                   `json:"summary"`
}

// HistoricalReport covers one validator across sampled epochs of every fork.
type HistoricalReport struct {
	Network        string         `json:"network"`
	Validator      uint64         `json:"validator_index"`
	Seed           int64          `json:"seed"`
	SamplesPerFork int            `json:"samples_per_fork"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Sections       []EpochSection `json:"sections"`
	Summary        Summary        `json:"summary"`
}

func NewHistoricalReport(network string, validator uint64, seed int64, samplesPerFork int) *HistoricalReport {
	return &HistoricalReport{
		Network:        network,
		Validator:      validator,
		Seed:           seed,
		SamplesPerFork: samplesPerFork,
		GeneratedAt:    time.Now().UTC(),
	}
}

// AddSection appends one sampled epoch's results and folds them into the
// overall summary.
func (h *HistoricalReport) AddSection(sampled types.SampledEpoch, results []*types.ComparisonResult) {
	s := Summarize(results)
	h.Sections = append(h.Sections, EpochSection{Sampled: sampled, Results: results, Summary: s})
	h.Summary.Match += s.Match
	h.Summary.Mismatch += s.Mismatch
	h.Summary.Skipped += s.Skipped
	h.Summary.Error += s.Error
}

// Writer persists reports under one output directory.
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating output directory")
	}
	return &Writer{dir: dir}, nil
}

// WriteEpochReport writes the Markdown and JSON artifacts for one epoch run
// and returns both paths.
func (w *Writer) WriteEpochReport(r *EpochReport) (mdPath, jsonPath string, err error) {
	base := fmt.Sprintf("investigation_v%d_e%d", r.Validator, r.Epoch)
	mdPath = filepath.Join(w.dir, base+".md")
	jsonPath = filepath.Join(w.dir, base+".json")

	if err := w.writeJSON(jsonPath, r); err != nil {
		return "", "", err
	}
	if err := w.writeTemplate(mdPath, epochTemplate, r); err != nil {
		return "", "", err
	}
	logger.WithField("path", mdPath).Info("wrote investigation report")
	return mdPath, jsonPath, nil
}

// WriteHistoricalReport writes the artifacts for a fork-history run.
func (w *Writer) WriteHistoricalReport(h *HistoricalReport) (mdPath, jsonPath string, err error) {
	base := fmt.Sprintf("historical_v%d_seed%d", h.Validator, h.Seed)
	mdPath = filepath.Join(w.dir, base+".md")
	jsonPath = filepath.Join(w.dir, base+".json")

	if err := w.writeJSON(jsonPath, h); err != nil {
		return "", "", err
	}
	if err := w.writeTemplate(mdPath, historicalTemplate, h); err != nil {
		return "", "", err
	}
	logger.WithField("path", mdPath).Info("wrote historical report")
	return mdPath, jsonPath, nil
}

func (w *Writer) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling report")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %v", path)
}

func (w *Writer) writeTemplate(path string, tmpl *template.Template, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %v", path)
	}
	defer f.Close()
	return errors.Wrapf(tmpl.Execute(f, v), "rendering %v", path)
}

var templateFuncs = template.FuncMap{
	"statusIcon": func(s types.TestStatus) string {
		switch s {
		case types.StatusMatch:
			return "✅"
		case types.StatusMismatch:
			return "❌"
		case types.StatusSkipped:
			return "⏭️"
		default:
			return "⚠️"
		}
	},
	"fmtDelta": func(d *int64) string {
		if d == nil {
			return "n/a"
		}
		return fmt.Sprintf("%d gwei", *d)
	},
	"fmtValue": func(v interface{}) string {
		if v == nil {
			return "n/a"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
}

var epochTemplate = template.Must(template.New("epoch").Funcs(templateFuncs).Parse(`# Cross-Verification Report

- **Network**: {{.Network}}
- **Validator**: {{.Validator}}
- **Epoch**: {{.Epoch}}
- **Fork phase**: {{.ForkPhase}}
- **Generated**: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}

## Summary

{{.Summary.Match}} match / {{.Summary.Mismatch}} mismatch / {{.Summary.Skipped}} skipped / {{.Summary.Error}} error

## Results

| Test | Name | Status | Delta | Explanation |
|------|------|--------|-------|-------------|
{{- range .Results}}
| {{.TestID}} | {{.TestName}} | {{statusIcon .Status}} {{.Status}} | {{fmtDelta .NormalizedDelta}} | {{.Explanation}} |
{{- end}}

## Raw values

{{range .Results}}### {{.TestID}} {{.TestName}}

- beaconcha.in: {{fmtValue .SourceAValue}}
- node: {{fmtValue .SourceBValue}}

{{end}}`))

var historicalTemplate = template.Must(template.New("historical").Funcs(templateFuncs).Parse(`# Historical Fork Verification Report

- **Network**: {{.Network}}
- **Validator**: {{.Validator}}
- **Seed**: {{.Seed}}
- **Samples per fork**: {{.SamplesPerFork}}
- **Generated**: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}

## Overall summary

{{.Summary.Match}} match / {{.Summary.Mismatch}} mismatch / {{.Summary.Skipped}} skipped / {{.Summary.Error}} error

{{range .Sections}}## {{.Sampled.ForkPhase}} - epoch {{.Sampled.Epoch}}

_{{.Sampled.Rationale}}_

| Test | Status | Delta | Explanation |
|------|--------|-------|-------------|
{{- range .Results}}
| {{.TestID}} | {{statusIcon .Status}} {{.Status}} | {{fmtDelta .NormalizedDelta}} | {{.Explanation}} |
{{- end}}

{{end}}`))
