package rows

import "sheetsync/internal/core"

// The layouts below are positional and shared by reads and writes. Columns
// after the documented ones (sortIndex, dayOfMonth, endDate, isActive) only
// extend a row, so older sheets keep parsing.

func CategorySchema() Schema[core.Category] {
	return Schema[core.Category]{
		Collection: core.Categories,
		Columns: []Column[core.Category]{
			RequiredText("id", func(c *core.Category) *string { return &c.ID }),
			Text("name", func(c *core.Category) *string { return &c.Name }),
			Text("color", func(c *core.Category) *string { return &c.Color }),
			Text("icon", func(c *core.Category) *string { return &c.Icon }),
			OptionalMoney("budget", func(c *core.Category) **core.Money { return &c.Budget }),
			Text("group", func(c *core.Category) *string { return &c.Group }),
			LastModified[core.Category](),
			IsDeleted[core.Category](),
			Version[core.Category](),
			Int("sortIndex", func(c *core.Category) *int { return &c.SortIndex }),
		},
		Validate: core.Category.Validate,
	}
}

func TransactionSchema() Schema[core.Transaction] {
	return Schema[core.Transaction]{
		Collection: core.Transactions,
		Columns: []Column[core.Transaction]{
			RequiredText("id", func(t *core.Transaction) *string { return &t.ID }),
			Money("amount", func(t *core.Transaction) *core.Money { return &t.Amount }),
			Text("description", func(t *core.Transaction) *string { return &t.Description }),
			RequiredText("categoryId", func(t *core.Transaction) *string { return &t.CategoryID }),
			Time("date", func(t *core.Transaction) *core.Timestamp { return &t.Date }),
			List("tagIds", func(t *core.Transaction) *[]string { return &t.TagIDs }),
			LastModified[core.Transaction](),
			IsDeleted[core.Transaction](),
			Text("recurringId", func(t *core.Transaction) *string { return &t.RecurringID }),
			Version[core.Transaction](),
			Text("createdBy", func(t *core.Transaction) *string { return &t.CreatedBy }),
		},
		Validate: core.Transaction.Validate,
	}
}

func RecurringSchema() Schema[core.RecurringTransaction] {
	type R = core.RecurringTransaction
	return Schema[R]{
		Collection: core.Recurring,
		Columns: []Column[R]{
			RequiredText("id", func(r *R) *string { return &r.ID }),
			Money("amount", func(r *R) *core.Money { return &r.Amount }),
			Text("description", func(r *R) *string { return &r.Description }),
			Text("categoryId", func(r *R) *string { return &r.CategoryID }),
			Enum("frequency", func(r *R) *core.Frequency { return &r.Frequency }, core.Frequency.Valid),
			Time("startDate", func(r *R) *core.Timestamp { return &r.StartDate }),
			OptionalTime("lastProcessedDate", func(r *R) **core.Timestamp { return &r.LastProcessedDate }),
			LastModified[R](),
			IsDeleted[R](),
			Version[R](),
			DayOfMonth("dayOfMonth", func(r *R) *int { return &r.DayOfMonth }),
			OptionalTime("endDate", func(r *R) **core.Timestamp { return &r.EndDate }),
			OptionalBool("isActive", func(r *R) **bool { return &r.IsActive }),
		},
		Validate: core.RecurringTransaction.Validate,
	}
}

func TagSchema() Schema[core.Tag] {
	return Schema[core.Tag]{
		Collection: core.Tags,
		Columns: []Column[core.Tag]{
			RequiredText("id", func(t *core.Tag) *string { return &t.ID }),
			RequiredText("name", func(t *core.Tag) *string { return &t.Name }),
			LastModified[core.Tag](),
			IsDeleted[core.Tag](),
			Version[core.Tag](),
		},
		Validate: core.Tag.Validate,
	}
}

func UserSchema() Schema[core.User] {
	return Schema[core.User]{
		Collection: core.Users,
		Columns: []Column[core.User]{
			RequiredText("id", func(u *core.User) *string { return &u.ID }),
			Text("name", func(u *core.User) *string { return &u.Name }),
			Text("color", func(u *core.User) *string { return &u.Color }),
			LastModified[core.User](),
			IsDeleted[core.User](),
			Version[core.User](),
		},
		Validate: core.User.Validate,
	}
}

func UserSettingSchema() Schema[core.UserSetting] {
	return Schema[core.UserSetting]{
		Collection: core.UserSettings,
		Columns: []Column[core.UserSetting]{
			RequiredText("userId", func(s *core.UserSetting) *string { return &s.UserID }),
			Enum("settingKey", func(s *core.UserSetting) *core.SettingKey { return &s.SettingKey }, core.SettingKey.Valid),
			Text("settingValue", func(s *core.UserSetting) *string { return &s.SettingValue }),
			LastModified[core.UserSetting](),
			IsDeleted[core.UserSetting](),
			Version[core.UserSetting](),
		},
		Validate: core.UserSetting.Validate,
	}
}
