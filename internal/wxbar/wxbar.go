// Package wxbar reads and writes the tabular files used to seed or persist
// a run's dual weights and consensus estimate. This happens only at the
// prep and done boundaries, never inside the streaming loop.
package wxbar

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// WriteWeights persists a flat scenario-major weight vector, one row per
// (scenario, coordinate) pair.
func WriteWeights(path string, scenarios []string, dim int, flat []float64) error {
	if len(flat) != len(scenarios)*dim {
		return fmt.Errorf("weights have %d entries, want %d", len(flat), len(scenarios)*dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"scenario", "coordinate", "value"}); err != nil {
		return err
	}
	for i, name := range scenarios {
		for j := 0; j < dim; j++ {
			row := []string{name, strconv.Itoa(j), strconv.FormatFloat(flat[i*dim+j], 'g', -1, 64)}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// ReadWeights loads a flat scenario-major weight vector written by
// WriteWeights. Every (scenario, coordinate) pair must be present.
func ReadWeights(path string, scenarios []string, dim int) ([]float64, error) {
	rows, err := readRows(path, 3)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	index := make(map[string]int, len(scenarios))
	for i, name := range scenarios {
		index[name] = i
	}
	flat := make([]float64, len(scenarios)*dim)
	seen := make([]bool, len(flat))
	for _, row := range rows {
		i, ok := index[row[0]]
		if !ok {
			return nil, fmt.Errorf("read weights: unknown scenario %q", row[0])
		}
		j, err := strconv.Atoi(row[1])
		if err != nil || j < 0 || j >= dim {
			return nil, fmt.Errorf("read weights: bad coordinate %q for %q", row[1], row[0])
		}
		v, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("read weights: bad value %q: %w", row[2], err)
		}
		flat[i*dim+j] = v
		seen[i*dim+j] = true
	}
	for k, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("read weights: missing entry for %s coordinate %d", scenarios[k/dim], k%dim)
		}
	}
	return flat, nil
}

// WriteConsensus persists a consensus estimate, one row per coordinate.
func WriteConsensus(path string, xbar []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write consensus: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"coordinate", "value"}); err != nil {
		return err
	}
	for j, v := range xbar {
		if err := w.Write([]string{strconv.Itoa(j), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadConsensus loads a consensus estimate written by WriteConsensus.
func ReadConsensus(path string, dim int) ([]float64, error) {
	rows, err := readRows(path, 2)
	if err != nil {
		return nil, fmt.Errorf("read consensus: %w", err)
	}
	xbar := make([]float64, dim)
	seen := make([]bool, dim)
	for _, row := range rows {
		j, err := strconv.Atoi(row[0])
		if err != nil || j < 0 || j >= dim {
			return nil, fmt.Errorf("read consensus: bad coordinate %q", row[0])
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("read consensus: bad value %q: %w", row[1], err)
		}
		xbar[j] = v
		seen[j] = true
	}
	for j, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("read consensus: missing coordinate %d", j)
		}
	}
	return xbar, nil
}

func readRows(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	// Skip the header row.
	return rows[1:], nil
}
