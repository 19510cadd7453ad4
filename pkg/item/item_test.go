package item

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFields_KeepsAllowList(t *testing.T) {
	fields := MergeFields([]string{"tags", FieldID, "", "tags"})

	require.Len(t, fields, len(SidebarFields)+1)
	assert.Equal(t, SidebarFields, fields[:len(SidebarFields)])
	assert.Equal(t, "tags", fields[len(fields)-1])
}

func TestMergeFields_NoExtra(t *testing.T) {
	fields := MergeFields(nil)
	assert.Equal(t, SidebarFields, fields)

	// The result must be a copy; mutating it cannot change the allow-list.
	fields[0] = "mutated"
	assert.Equal(t, FieldID, SidebarFields[0])
}

func TestItem_HasSkills(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"hint field", `{"id":"f1","has_skill_data":true}`, true},
		{"skills cards", `{"id":"f1","metadata":{"global":{"boxSkillsCards":{"cards":[{"type":"skill_card","skill_card_type":"keyword"}]}}}}`, true},
		{"empty cards", `{"id":"f1","metadata":{"global":{"boxSkillsCards":{"cards":[]}}}}`, false},
		{"no metadata", `{"id":"f1"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &it))
			assert.Equal(t, tt.want, it.HasSkills())
		})
	}
}

func TestItem_MayHaveMetadata(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":"f3","may_have_metadata":true}`), &it))
	assert.True(t, it.MayHaveMetadata())

	var nilItem *Item
	assert.False(t, nilItem.MayHaveMetadata())
	assert.False(t, nilItem.HasSkills())
}
