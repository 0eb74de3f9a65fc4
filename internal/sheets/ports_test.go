package sheets

import "testing"

func TestA1Range(t *testing.T) {
	cases := []struct {
		tab   string
		width int
		want  string
	}{
		{"Tags", 5, "Tags!A1:E"},
		{"Transactions", 11, "Transactions!A1:K"},
		{"User Settings", 6, "'User Settings'!A1:F"},
		{"Wide", 28, "Wide!A1:AB"},
	}
	for _, tc := range cases {
		if got := A1Range(tc.tab, tc.width); got != tc.want {
			t.Fatalf("A1Range(%q, %d) = %q, want %q", tc.tab, tc.width, got, tc.want)
		}
		if got := TabOf(A1Range(tc.tab, tc.width)); got != tc.tab {
			t.Fatalf("TabOf round trip: got %q, want %q", got, tc.tab)
		}
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{1: "A", 26: "Z", 27: "AA", 52: "AZ", 53: "BA", 702: "ZZ", 703: "AAA"}
	for n, want := range cases {
		if got := ColumnLetter(n); got != want {
			t.Fatalf("ColumnLetter(%d) = %q, want %q", n, got, want)
		}
	}
}
