package memory

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ports "sheetsync/internal/sheets"
)

// Store is an in-memory workbook: one grid of cells per tab.
type Store struct {
	mu   sync.Mutex
	tabs map[string][][]string

	gets, clears, updates int
}

var _ ports.RangeStore = (*Store)(nil)

func New() *Store {
	return &Store{tabs: map[string][][]string{}}
}

// NewFromDir seeds one tab per "<Tab>.csv" file found in dir. Missing or
// unreadable files are ignored so a fresh checkout starts empty.
func NewFromDir(dir string) *Store {
	s := New()
	files, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	for _, path := range files {
		grid := readCSV(path)
		if len(grid) == 0 {
			continue
		}
		tab := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		s.Seed(tab, grid)
	}
	return s
}

// Seed replaces the content of a tab.
func (s *Store) Seed(tab string, grid [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tab] = copyGrid(grid)
}

// Grid returns a copy of the tab content.
func (s *Store) Grid(tab string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyGrid(s.tabs[tab])
}

// Calls reports how many batch operations of each kind were served.
func (s *Store) Calls() (gets, clears, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.clears, s.updates
}

func (s *Store) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	out := make([][][]string, len(ranges))
	for i, rng := range ranges {
		out[i] = trimTrailingBlank(copyGrid(s.tabs[ports.TabOf(rng)]))
	}
	return out, nil
}

func (s *Store) BatchClear(ctx context.Context, ranges []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	for _, rng := range ranges {
		grid := s.tabs[ports.TabOf(rng)]
		for _, row := range grid {
			for j := range row {
				row[j] = ""
			}
		}
	}
	return nil
}

// BatchUpdate overwrites cells from A1 down; cells outside the written
// grid keep their content, as with the real service.
func (s *Store) BatchUpdate(ctx context.Context, data []ports.RangeData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	for _, d := range data {
		tab := ports.TabOf(d.Range)
		grid := s.tabs[tab]
		for i, row := range d.Rows {
			for len(grid) <= i {
				grid = append(grid, nil)
			}
			for len(grid[i]) < len(row) {
				grid[i] = append(grid[i], "")
			}
			copy(grid[i], row)
		}
		s.tabs[tab] = grid
	}
	return nil
}

func copyGrid(in [][]string) [][]string {
	if in == nil {
		return nil
	}
	out := make([][]string, len(in))
	for i, row := range in {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// trimTrailingBlank mimics the API, which omits trailing empty rows and cells.
func trimTrailingBlank(grid [][]string) [][]string {
	for i, row := range grid {
		end := len(row)
		for end > 0 && row[end-1] == "" {
			end--
		}
		grid[i] = row[:end]
	}
	end := len(grid)
	for end > 0 && len(grid[end-1]) == 0 {
		end--
	}
	return grid[:end]
}

func readCSV(path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	grid, err := r.ReadAll()
	if err != nil {
		return nil
	}
	return grid
}
