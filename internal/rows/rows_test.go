package rows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync/internal/core"
)

var testNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func env() Env { return Env{Now: testNow} }

func TestParseTransactions_Coercion(t *testing.T) {
	grid := [][]string{
		{"tx_1", "12,50", "Spesa", "cat_food", "2025-03-10", "tag_a, ,tag_b,", "2025-03-10T08:00:00Z", "true", "", "3", "user_1"},
		{"tx_2", "abc", "", "cat_food", "not a date", "", "", "FALSE", "rec_1", "-4"},
		{"", "", "", ""},
		{"tx_3", "", "", "cat_home"},
	}

	got, report := ParseRows(grid, TransactionSchema(), env())
	require.False(t, report.Failed(), report.Errors)
	require.Len(t, got, 3)
	assert.Equal(t, 1, report.Blank)

	tx1 := got[0]
	assert.Equal(t, "tx_1", tx1.ID)
	assert.Equal(t, "12.5", tx1.Amount.String())
	assert.Equal(t, []string{"tag_a", "tag_b"}, tx1.TagIDs)
	assert.True(t, tx1.IsDeleted)
	assert.Equal(t, 3, tx1.Version)
	assert.Equal(t, "user_1", tx1.CreatedBy)
	assert.True(t, tx1.Date.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))

	tx2 := got[1]
	assert.Equal(t, "0", tx2.Amount.String())
	assert.True(t, tx2.Date.Equal(testNow), "malformed date falls back to now")
	assert.True(t, tx2.LastModified.Equal(testNow), "empty lastModified falls back to now")
	assert.False(t, tx2.IsDeleted)
	assert.Equal(t, 1, tx2.Version)
	assert.Equal(t, "rec_1", tx2.RecurringID)
	assert.Nil(t, tx2.TagIDs)

	tx3 := got[2]
	assert.Equal(t, "tx_3", tx3.ID, "missing trailing cells read as empty")
	assert.Equal(t, 1, tx3.Version)
	assert.Empty(t, tx3.CreatedBy)
}

func TestParseRows_MalformedRowEmptiesCollection(t *testing.T) {
	grid := [][]string{
		{"tx_1", "10", "ok", "cat_food"},
		{"tx_2", "5", "missing category", ""},
	}

	got, report := ParseRows(grid, TransactionSchema(), env())
	assert.Empty(t, got)
	assert.NotNil(t, got)
	require.True(t, report.Failed())
	require.Len(t, report.Errors, 1)
	assert.Equal(t, RowError{Row: 2, Field: "categoryId", Message: "is required"}, report.Errors[0])
	assert.Contains(t, report.Error(), "transactions")
}

func TestParseRecurring_EnumWithoutFallbackFails(t *testing.T) {
	grid := [][]string{
		{"rec_1", "800", "Affitto", "cat_home", "monthly", "2025-01-05"},
		{"rec_2", "30", "Palestra", "cat_sport", "weekly", "2025-01-05"},
	}
	got, report := ParseRows(grid, RecurringSchema(), env())
	assert.Empty(t, got)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "frequency", report.Errors[0].Field)
}

func TestParseCategories_OptionalMoney(t *testing.T) {
	grid := [][]string{
		{"cat_a", "Casa", "#f00", "home", "250,75", "fixed", "", "", "2"},
		{"cat_b", "Svago", "#0f0", "fun", "", "extra"},
		{"cat_c", "Altro", "#00f", "dots", "n/a", "extra"},
	}
	got, report := ParseRows(grid, CategorySchema(), env())
	require.False(t, report.Failed())
	require.Len(t, got, 3)

	require.NotNil(t, got[0].Budget)
	assert.Equal(t, "250.75", got[0].Budget.String())
	assert.Equal(t, 2, got[0].Version)
	assert.Nil(t, got[1].Budget)
	assert.Nil(t, got[2].Budget)
	assert.Equal(t, []string{"cat_a", "cat_b", "cat_c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestParseUserSettings_UnknownKeyFails(t *testing.T) {
	grid := [][]string{
		{"user_1", "favoriteCategories", "cat_a,cat_b"},
		{"user_1", "theme", "dark"},
	}
	got, report := ParseRows(grid, UserSettingSchema(), env())
	assert.Empty(t, got)
	assert.True(t, report.Failed())
}

func TestBoolCoercion(t *testing.T) {
	for _, in := range []string{"TRUE", "true", "True", " tRuE "} {
		assert.True(t, ParseBool(in), in)
	}
	for _, in := range []string{"", "FALSE", "no", "1", "yes"} {
		assert.False(t, ParseBool(in), in)
	}
}

func TestParseVersion(t *testing.T) {
	cases := map[string]int{"": 1, "abc": 1, "0": 1, "-2": 1, "1": 1, "7": 7, " 12 ": 12}
	for in, want := range cases {
		assert.Equal(t, want, ParseVersion(in), in)
	}
}

func TestStripHeader(t *testing.T) {
	s := TagSchema()
	withHeader := [][]string{{"ID", "name"}, {"tag_a", "casa"}}
	assert.Len(t, s.StripHeader(withHeader), 1)

	withoutHeader := [][]string{{"tag_a", "casa"}}
	assert.Len(t, s.StripHeader(withoutHeader), 1)
	assert.Empty(t, s.StripHeader(nil))
}

func TestBlankRowsContributeNothing(t *testing.T) {
	grid := [][]string{{}, {"", "  ", ""}, {""}}
	got, report := ParseRows(grid, TagSchema(), env())
	assert.Empty(t, got)
	assert.False(t, report.Failed())
	assert.Equal(t, 3, report.Blank)
}

func TestRoundTrip(t *testing.T) {
	modified := core.NewTimestamp(time.Date(2025, 2, 1, 9, 30, 15, 250000000, time.UTC))
	start := core.NewTimestamp(time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC))
	budget := core.NewMoney(1200.5)
	active := false

	t.Run("categories", func(t *testing.T) {
		items := []core.Category{
			{ID: "cat_a", Name: "Casa", Color: "#fff", Icon: "home", Budget: &budget, Group: "fixed", SortIndex: 3,
				Versioned: core.Versioned{Version: 4, LastModified: modified, IsDeleted: true}},
			{ID: "cat_b", Name: "Svago", Versioned: core.Versioned{Version: 1, LastModified: modified}},
		}
		assertRoundTrip(t, items, CategorySchema())
	})

	t.Run("transactions", func(t *testing.T) {
		items := []core.Transaction{
			{ID: "tx_1", Amount: core.NewMoney(-12.5), Description: "Pizza, bibite", CategoryID: "cat_b", Date: start,
				TagIDs: []string{"tag_a", "tag_b"}, RecurringID: "rec_1", CreatedBy: "user_1",
				Versioned: core.Versioned{Version: 2, LastModified: modified}},
		}
		assertRoundTrip(t, items, TransactionSchema())
	})

	t.Run("recurring", func(t *testing.T) {
		end := core.NewTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		items := []core.RecurringTransaction{
			{ID: "rec_1", Amount: core.NewMoney(800), Description: "Affitto", CategoryID: "cat_a", Frequency: core.Quarterly,
				DayOfMonth: 5, StartDate: start, EndDate: &end, IsActive: &active, LastProcessedDate: start.Ptr(),
				Versioned: core.Versioned{Version: 9, LastModified: modified}},
			{ID: "rec_2", Amount: core.NewMoney(10), Frequency: core.Yearly, StartDate: start,
				Versioned: core.Versioned{Version: 1, LastModified: modified}},
		}
		assertRoundTrip(t, items, RecurringSchema())
	})

	t.Run("tags users settings", func(t *testing.T) {
		assertRoundTrip(t, []core.Tag{{ID: "tag_a", Name: "casa", Versioned: core.Versioned{Version: 1, LastModified: modified}}}, TagSchema())
		assertRoundTrip(t, []core.User{{ID: "u1", Name: "Anna", Color: "#123", Versioned: core.Versioned{Version: 2, LastModified: modified}}}, UserSchema())
		assertRoundTrip(t, []core.UserSetting{{UserID: "u1", SettingKey: core.DashboardPreferences, SettingValue: `{"compact":true}`,
			Versioned: core.Versioned{Version: 1, LastModified: modified}}}, UserSettingSchema())
	})

	t.Run("surrounding whitespace in text", func(t *testing.T) {
		txs := []core.Transaction{{ID: "tx_ws", Amount: core.NewMoney(3), Description: "  Coffee ", CategoryID: "cat_a", Date: start,
			Versioned: core.Versioned{Version: 1, LastModified: modified}}}
		assertRoundTrip(t, txs, TransactionSchema())

		parsed, report := ParseRows(SerializeRows(txs, TransactionSchema()), TransactionSchema(), env())
		require.False(t, report.Failed(), report.Errors)
		assert.Equal(t, "  Coffee ", parsed[0].Description)

		assertRoundTrip(t, []core.Tag{{ID: "tag_ws", Name: " casa", Versioned: core.Versioned{Version: 1, LastModified: modified}}}, TagSchema())
		assertRoundTrip(t, []core.UserSetting{{UserID: "u1", SettingKey: core.FavoriteCategories, SettingValue: " [\"cat_a\"] ",
			Versioned: core.Versioned{Version: 1, LastModified: modified}}}, UserSettingSchema())
	})
}

func TestParseRows_TrimsTypedCells(t *testing.T) {
	grid := [][]string{{" rec_1 ", " 12,5 ", " Affitto ", "cat_a", " monthly ", " 2024-12-05 ", "", "", " true ", " 4 "}}

	parsed, report := ParseRows(grid, RecurringSchema(), env())
	require.False(t, report.Failed(), report.Errors)
	require.Len(t, parsed, 1)

	r := parsed[0]
	assert.Equal(t, core.Monthly, r.Frequency)
	assert.True(t, r.Amount.Equal(core.NewMoney(12.5)))
	assert.Equal(t, 4, r.Version)
	assert.True(t, r.IsDeleted)
	assert.Equal(t, " Affitto ", r.Description)
}

func TestParseRows_BlankRequiredText(t *testing.T) {
	grid := [][]string{{"tag_a", "   ", "", "", "1"}}

	parsed, report := ParseRows(grid, TagSchema(), env())
	assert.Empty(t, parsed)
	require.True(t, report.Failed())
	assert.Equal(t, "name", report.Errors[0].Field)
}

func assertRoundTrip[T any](t *testing.T, items []T, s Schema[T]) {
	t.Helper()
	table := Table(items, s)
	require.Equal(t, s.Header(), table[0])

	parsed, report := ParseRows(s.StripHeader(table), s, env())
	require.False(t, report.Failed(), report.Errors)
	require.Len(t, parsed, len(items))
	assert.Equal(t, SerializeRows(items, s), SerializeRows(parsed, s))
}

func TestSerializeLiterals(t *testing.T) {
	tx := core.Transaction{ID: "tx_1", Amount: core.NewMoney(12.5), CategoryID: "c", TagIDs: []string{"a", "b"},
		Versioned: core.Versioned{Version: 2, IsDeleted: true}}
	row := SerializeRows([]core.Transaction{tx}, TransactionSchema())[0]
	require.Len(t, row, 11)
	assert.Equal(t, "12.5", row[1])
	assert.Equal(t, "a,b", row[5])
	assert.Equal(t, "TRUE", row[7])
	assert.Equal(t, "2", row[9])
}
