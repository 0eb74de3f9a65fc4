package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sheetsync/internal/core"
	"sheetsync/internal/rows"
)

func tag(id string, version int) core.Tag {
	return core.Tag{ID: id, Name: id, Versioned: envelope(version)}
}

func ids(tags []core.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.ID
	}
	return out
}

func TestDetectConflicts(t *testing.T) {
	server := []core.Tag{tag("a", 3), tag("b", 1), tag("c", 2)}

	tests := []struct {
		name   string
		client []core.Tag
		want   []string
	}{
		{"no overlap", []core.Tag{tag("d", 1)}, []string{}},
		{"equal versions", []core.Tag{tag("a", 3)}, []string{}},
		{"client newer", []core.Tag{tag("b", 5)}, []string{}},
		{"client older", []core.Tag{tag("a", 2), tag("c", 1), tag("b", 1)}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(DetectConflicts(server, tt.client)))
		})
	}
}

func TestMerge(t *testing.T) {
	server := []core.Tag{tag("a", 1), tag("b", 1), tag("c", 1)}
	client := []core.Tag{tag("x", 1), tag("b", 2), tag("y", 1)}

	merged := Merge(server, client)
	assert.Equal(t, []string{"a", "b", "c", "x", "y"}, ids(merged))
	assert.Equal(t, 2, merged[1].Version)
}

func TestMerge_DeduplicatesKeys(t *testing.T) {
	merged := Merge([]core.Tag{tag("a", 1), tag("a", 2)}, []core.Tag{tag("b", 1), tag("b", 3)})
	assert.Equal(t, []string{"a", "b"}, ids(merged))
	assert.Equal(t, 2, merged[0].Version)
	assert.Equal(t, 3, merged[1].Version)
}

func TestMerge_UserSettingsUseCompositeKey(t *testing.T) {
	server := []core.UserSetting{{UserID: "u1", SettingKey: core.FavoriteCategories, Versioned: envelope(1)}}
	client := []core.UserSetting{{UserID: "u1", SettingKey: core.HiddenCategories, Versioned: envelope(1)}}
	assert.Len(t, Merge(server, client), 2)
}

func TestVersionDrift(t *testing.T) {
	server := []core.Tag{tag("a", 2), tag("b", 1)}
	changed := tag("a", 2)
	changed.Name = "renamed"

	keys := VersionDrift(server, []core.Tag{changed, tag("b", 1)}, encoder(rows.TagSchema()))
	assert.Equal(t, []string{"a"}, keys)
}
