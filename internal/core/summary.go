package core

// Dataset is a full snapshot of every synchronized collection. The JSON
// names are those of the read endpoint response.
type Dataset struct {
	Categories            []Category             `json:"categories"`
	Transactions          []Transaction          `json:"transactions"`
	RecurringTransactions []RecurringTransaction `json:"recurringTransactions"`
	Tags                  []Tag                  `json:"allAvailableTags"`
	Users                 []User                 `json:"users"`
	UserSettings          []UserSetting          `json:"userSettings"`
}

// CollectionCount summarizes one collection.
type CollectionCount struct {
	Total   int `json:"total"`
	Deleted int `json:"deleted"`
}

// Counts is a compact per-collection summary used in logs and events.
type Counts map[Collection]CollectionCount

// WithEmptyCollections replaces nil slices so that JSON renders [] rather than null.
func (d Dataset) WithEmptyCollections() Dataset {
	if d.Categories == nil {
		d.Categories = []Category{}
	}
	if d.Transactions == nil {
		d.Transactions = []Transaction{}
	}
	if d.RecurringTransactions == nil {
		d.RecurringTransactions = []RecurringTransaction{}
	}
	if d.Tags == nil {
		d.Tags = []Tag{}
	}
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.UserSettings == nil {
		d.UserSettings = []UserSetting{}
	}
	return d
}

func (d Dataset) Counts() Counts {
	return Counts{
		Categories:   countOf(d.Categories),
		Transactions: countOf(d.Transactions),
		Recurring:    countOf(d.RecurringTransactions),
		Tags:         countOf(d.Tags),
		Users:        countOf(d.Users),
		UserSettings: countOf(d.UserSettings),
	}
}

type tombstoned interface {
	deleted() bool
}

func (v Versioned) deleted() bool { return v.IsDeleted }

func countOf[T tombstoned](items []T) CollectionCount {
	c := CollectionCount{Total: len(items)}
	for _, it := range items {
		if it.deleted() {
			c.Deleted++
		}
	}
	return c
}

// Live filters out tombstones.
func Live[T Record](items []T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if d, ok := any(it).(tombstoned); ok && d.deleted() {
			continue
		}
		out = append(out, it)
	}
	return out
}
