package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Monthly      Frequency = "monthly"
	Bimonthly    Frequency = "bimonthly"
	Quarterly    Frequency = "quarterly"
	Semiannually Frequency = "semiannually"
	Yearly       Frequency = "yearly"
)

const (
	FavoriteCategories   SettingKey = "favoriteCategories"
	HiddenCategories     SettingKey = "hiddenCategories"
	CategoryGroupOrder   SettingKey = "categoryGroupOrder"
	DashboardPreferences SettingKey = "dashboardPreferences"
)

// Collection names used in logs, conflict payloads and the local store.
const (
	Categories   Collection = "categories"
	Transactions Collection = "transactions"
	Recurring    Collection = "recurring"
	Tags         Collection = "tags"
	Users        Collection = "users"
	UserSettings Collection = "userSettings"
)

type (
	Frequency  string
	SettingKey string
	Collection string

	// Versioned is the envelope shared by every synchronized entity.
	// Conflicted is a client-side marker and never reaches a sheet row.
	Versioned struct {
		Version      int       `json:"version"`
		LastModified Timestamp `json:"lastModified"`
		IsDeleted    bool      `json:"isDeleted"`
		Conflicted   bool      `json:"conflicted,omitempty"`
	}

	Category struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Color     string `json:"color"`
		Icon      string `json:"icon"`
		Budget    *Money `json:"budget,omitempty"`
		Group     string `json:"group"`
		SortIndex int    `json:"sortIndex"`
		Versioned
	}

	Transaction struct {
		ID          string    `json:"id"`
		Amount      Money     `json:"amount"`
		Description string    `json:"description"`
		CategoryID  string    `json:"categoryId"`
		Date        Timestamp `json:"date"`
		TagIDs      []string  `json:"tagIds,omitempty"`
		RecurringID string    `json:"recurringId,omitempty"`
		CreatedBy   string    `json:"createdBy,omitempty"`
		Versioned
	}

	RecurringTransaction struct {
		ID                string     `json:"id"`
		Amount            Money      `json:"amount"`
		Description       string     `json:"description"`
		CategoryID        string     `json:"categoryId"`
		Frequency         Frequency  `json:"frequency"`
		DayOfMonth        int        `json:"dayOfMonth,omitempty"`
		StartDate         Timestamp  `json:"startDate"`
		EndDate           *Timestamp `json:"endDate,omitempty"`
		IsActive          *bool      `json:"isActive,omitempty"`
		LastProcessedDate *Timestamp `json:"lastProcessedDate,omitempty"`
		Versioned
	}

	Tag struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Versioned
	}

	User struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color"`
		Versioned
	}

	// UserSetting is keyed by (UserID, SettingKey) instead of an id.
	UserSetting struct {
		UserID       string     `json:"userId"`
		SettingKey   SettingKey `json:"settingKey"`
		SettingValue string     `json:"settingValue"`
		Versioned
	}

	// FieldError describes one failed field check. Collection and Index are
	// filled in by callers validating a batch.
	FieldError struct {
		Collection Collection `json:"collection,omitempty"`
		Index      int        `json:"index"`
		Field      string     `json:"field"`
		Message    string     `json:"message"`
	}
)

// Record is implemented by every synchronized entity.
type Record interface {
	Key() string
	Rev() int
}

// RecordPtr lets generic code mutate the envelope of a record value.
type RecordPtr[T any] interface {
	*T
	Record
	Meta() *Versioned
}

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrUnknownFrequency = errors.New("unknown frequency")
)

var frequencyMonths = map[Frequency]int{
	Monthly:      1,
	Bimonthly:    2,
	Quarterly:    3,
	Semiannually: 6,
	Yearly:       12,
}

// Frequencies lists the supported recurrence frequencies in ascending period.
func Frequencies() []Frequency {
	return []Frequency{Monthly, Bimonthly, Quarterly, Semiannually, Yearly}
}

func (f Frequency) Valid() bool {
	_, ok := frequencyMonths[f]
	return ok
}

// Months returns the period of the frequency in calendar months, 0 if unknown.
func (f Frequency) Months() int {
	return frequencyMonths[f]
}

func SettingKeys() []SettingKey {
	return []SettingKey{FavoriteCategories, HiddenCategories, CategoryGroupOrder, DashboardPreferences}
}

func (k SettingKey) Valid() bool {
	for _, known := range SettingKeys() {
		if k == known {
			return true
		}
	}
	return false
}

func (v Versioned) Rev() int { return v.Version }

func (v *Versioned) Meta() *Versioned { return v }

// Touch records a local mutation: the version moves up by exactly one.
func (v *Versioned) Touch(now time.Time) {
	if v.Version < 1 {
		v.Version = 0
	}
	v.Version++
	v.LastModified = NewTimestamp(now)
}

// MarkDeleted turns the record into a tombstone.
func (v *Versioned) MarkDeleted(now time.Time) {
	v.IsDeleted = true
	v.Touch(now)
}

// Normalize applies the envelope defaults: version 1 and lastModified now.
func (v *Versioned) Normalize(now time.Time) {
	if v.Version == 0 {
		v.Version = 1
	}
	if v.LastModified.IsZero() {
		v.LastModified = NewTimestamp(now)
	}
}

func (v Versioned) validate() []FieldError {
	if v.Version < 1 {
		return []FieldError{{Field: "version", Message: "must be a positive integer"}}
	}
	return nil
}

func (c Category) Key() string    { return c.ID }
func (t Transaction) Key() string { return t.ID }
func (r RecurringTransaction) Key() string {
	return r.ID
}
func (t Tag) Key() string  { return t.ID }
func (u User) Key() string { return u.ID }

func (s UserSetting) Key() string {
	return s.UserID + "|" + string(s.SettingKey)
}

func requireText(field, value string) []FieldError {
	if strings.TrimSpace(value) == "" {
		return []FieldError{{Field: field, Message: "is required"}}
	}
	return nil
}

func (c Category) Validate() []FieldError {
	errs := requireText("id", c.ID)
	return append(errs, c.Versioned.validate()...)
}

func (t Transaction) Validate() []FieldError {
	errs := requireText("id", t.ID)
	errs = append(errs, requireText("categoryId", t.CategoryID)...)
	return append(errs, t.Versioned.validate()...)
}

func (r RecurringTransaction) Validate() []FieldError {
	errs := requireText("id", r.ID)
	if !r.Frequency.Valid() {
		errs = append(errs, FieldError{Field: "frequency", Message: "must be one of monthly, bimonthly, quarterly, semiannually, yearly"})
	}
	if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
		errs = append(errs, FieldError{Field: "dayOfMonth", Message: "must be between 1 and 31"})
	}
	if r.EndDate != nil && !r.StartDate.IsZero() && r.EndDate.Before(r.StartDate.Time) {
		errs = append(errs, FieldError{Field: "endDate", Message: "must not precede startDate"})
	}
	return append(errs, r.Versioned.validate()...)
}

func (t Tag) Validate() []FieldError {
	errs := requireText("id", t.ID)
	errs = append(errs, requireText("name", t.Name)...)
	return append(errs, t.Versioned.validate()...)
}

func (u User) Validate() []FieldError {
	errs := requireText("id", u.ID)
	return append(errs, u.Versioned.validate()...)
}

func (s UserSetting) Validate() []FieldError {
	errs := requireText("userId", s.UserID)
	if !s.SettingKey.Valid() {
		errs = append(errs, FieldError{Field: "settingKey", Message: "unknown setting key"})
	}
	return append(errs, s.Versioned.validate()...)
}

// Active reports whether the template should still produce transactions.
// A missing flag means active.
func (r RecurringTransaction) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// AnchorDay is the day of month occurrences fall on.
func (r RecurringTransaction) AnchorDay() int {
	if r.DayOfMonth >= 1 && r.DayOfMonth <= 31 {
		return r.DayOfMonth
	}
	return r.StartDate.Day()
}
