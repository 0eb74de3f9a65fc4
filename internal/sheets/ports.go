package sheets

import (
	"context"
	"fmt"
	"strings"
)

// Ports for outbound adapters.
type (
	// RangeStore is the spreadsheet seen as a set of named cell ranges. It
	// offers batched operations only and no row-level locking.
	RangeStore interface {
		// BatchGet returns one grid per requested range, in request order.
		// Ranges without data yield an empty grid.
		BatchGet(ctx context.Context, ranges []string) ([][][]string, error)
		// BatchClear empties every cell of the given ranges.
		BatchClear(ctx context.Context, ranges []string) error
		// BatchUpdate writes each grid starting at the top-left cell of its range.
		BatchUpdate(ctx context.Context, data []RangeData) error
	}

	// StoreProvider resolves the store for one request. It fails with a
	// configuration error when credentials or the spreadsheet id are missing.
	StoreProvider interface {
		Store(ctx context.Context) (RangeStore, error)
	}
)

// RangeData is one grid to write.
type RangeData struct {
	Range string
	Rows  [][]string
}

// StaticProvider always returns the same store.
type StaticProvider struct {
	RangeStore RangeStore
}

func (p StaticProvider) Store(context.Context) (RangeStore, error) {
	return p.RangeStore, nil
}

// A1Range addresses the first width columns of a tab: 'Tab Name'!A1:K.
func A1Range(tab string, width int) string {
	return fmt.Sprintf("%s!A1:%s", quoteTab(tab), ColumnLetter(width))
}

// TabOf extracts the tab name from an A1 range.
func TabOf(rng string) string {
	tab := rng
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		tab = rng[:i]
	}
	if len(tab) >= 2 && strings.HasPrefix(tab, "'") && strings.HasSuffix(tab, "'") {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}
	return tab
}

// ColumnLetter converts a 1-based column number to its letter form (1=A, 27=AA).
func ColumnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

func quoteTab(tab string) string {
	for _, r := range tab {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
		}
	}
	return tab
}
