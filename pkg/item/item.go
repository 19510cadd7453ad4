// Package item defines the records the sidebar fetches and hands to its panels.
package item

import "time"

// Field names requested for every sidebar item fetch.
const (
	FieldID                = "id"
	FieldName              = "name"
	FieldDescription       = "description"
	FieldSize              = "size"
	FieldExtension         = "extension"
	FieldCreatedAt         = "created_at"
	FieldModifiedAt        = "modified_at"
	FieldPermissions       = "permissions"
	FieldFileVersion       = "file_version"
	FieldOwnedBy           = "owned_by"
	FieldSharedLink        = "shared_link"
	FieldIsExternallyOwned = "is_externally_owned"
	FieldHasCollaborations = "has_collaborations"
	FieldVersionNumber     = "version_number"
	FieldMetadataSkills    = "metadata.global.boxSkillsCards"
	FieldHasSkillData      = "has_skill_data"
	FieldMayHaveMetadata   = "may_have_metadata"
)

// SidebarFields is the fixed allow-list of fields the sidebar renders from.
var SidebarFields = []string{
	FieldID,
	FieldName,
	FieldDescription,
	FieldSize,
	FieldExtension,
	FieldCreatedAt,
	FieldModifiedAt,
	FieldPermissions,
	FieldFileVersion,
	FieldOwnedBy,
	FieldSharedLink,
	FieldIsExternallyOwned,
	FieldHasCollaborations,
	FieldVersionNumber,
	FieldMetadataSkills,
	FieldHasSkillData,
	FieldMayHaveMetadata,
}

// MergeFields returns the allow-list followed by any extra fields not
// already present. The allow-list itself is never reduced.
func MergeFields(extra []string) []string {
	fields := make([]string, 0, len(SidebarFields)+len(extra))
	seen := make(map[string]struct{}, len(SidebarFields)+len(extra))
	for _, f := range SidebarFields {
		seen[f] = struct{}{}
		fields = append(fields, f)
	}
	for _, f := range extra {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		fields = append(fields, f)
	}
	return fields
}

// Item is the sidebar's view of a file. It is replaced whole after each
// successful fetch.
type Item struct {
	ID                  string       `json:"id"`
	Type                string       `json:"type,omitempty"`
	Name                string       `json:"name,omitempty"`
	Description         string       `json:"description,omitempty"`
	Size                int64        `json:"size,omitempty"`
	Extension           string       `json:"extension,omitempty"`
	CreatedAt           *time.Time   `json:"created_at,omitempty"`
	ModifiedAt          *time.Time   `json:"modified_at,omitempty"`
	Permissions         *Permissions `json:"permissions,omitempty"`
	FileVersion         *Version     `json:"file_version,omitempty"`
	OwnedBy             *User        `json:"owned_by,omitempty"`
	SharedLink          *SharedLink  `json:"shared_link,omitempty"`
	IsExternallyOwned   bool         `json:"is_externally_owned,omitempty"`
	HasCollaborations   bool         `json:"has_collaborations,omitempty"`
	VersionNumber       string       `json:"version_number,omitempty"`
	Metadata            *Metadata    `json:"metadata,omitempty"`
	HasSkillData        bool         `json:"has_skill_data,omitempty"`
	MayHaveMetadataHint bool         `json:"may_have_metadata,omitempty"`
}

// HasSkills reports whether skills data was detected on the item.
func (i *Item) HasSkills() bool {
	if i == nil {
		return false
	}
	if i.HasSkillData {
		return true
	}
	if i.Metadata == nil || i.Metadata.Global == nil || i.Metadata.Global.SkillsCards == nil {
		return false
	}
	return len(i.Metadata.Global.SkillsCards.Cards) > 0
}

// MayHaveMetadata reports whether the item may carry metadata instances
// that a metadata panel without the feature could still surface.
func (i *Item) MayHaveMetadata() bool {
	return i != nil && i.MayHaveMetadataHint
}

// Permissions holds the capability bits the panels care about.
type Permissions struct {
	CanPreview            bool `json:"can_preview,omitempty"`
	CanDownload           bool `json:"can_download,omitempty"`
	CanUpload             bool `json:"can_upload,omitempty"`
	CanRename             bool `json:"can_rename,omitempty"`
	CanComment            bool `json:"can_comment,omitempty"`
	CanEditMetadata       bool `json:"can_edit_metadata,omitempty"`
	CanViewAnnotations    bool `json:"can_view_annotations_all,omitempty"`
	CanInviteCollaborator bool `json:"can_invite_collaborator,omitempty"`
}

// Version identifies one version of a file.
type Version struct {
	ID            string `json:"id"`
	Type          string `json:"type,omitempty"`
	VersionNumber string `json:"version_number,omitempty"`
	SHA1          string `json:"sha1,omitempty"`
}

// User is a minimal user reference.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Login string `json:"login,omitempty"`
}

// SharedLink describes the item's shared link, if any.
type SharedLink struct {
	URL    string `json:"url"`
	Access string `json:"access,omitempty"`
}

// Metadata mirrors the nested metadata field requested for skills.
type Metadata struct {
	Global *GlobalMetadata `json:"global,omitempty"`
}

// GlobalMetadata holds global-scope templates fetched with the item.
type GlobalMetadata struct {
	SkillsCards *SkillsCards `json:"boxSkillsCards,omitempty"`
}

// SkillsCards is the skills template instance.
type SkillsCards struct {
	Cards []SkillCard `json:"cards"`
}

// SkillCard is one skills card; entries are kept opaque.
type SkillCard struct {
	Type     string           `json:"type"`
	CardType string           `json:"skill_card_type,omitempty"`
	Title    string           `json:"title,omitempty"`
	Entries  []map[string]any `json:"entries,omitempty"`
}

// MetadataEditor describes one editable metadata instance on an item.
type MetadataEditor struct {
	InstanceID  string         `json:"instance_id"`
	TemplateKey string         `json:"template_key"`
	Scope       string         `json:"scope"`
	DisplayName string         `json:"display_name,omitempty"`
	CanEdit     bool           `json:"can_edit"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// AdditionalTab is the data passed to an extensibility tab.
type AdditionalTab struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	IconURL string `json:"icon_url,omitempty" yaml:"icon_url"`
	Status  string `json:"status,omitempty" yaml:"status"`
}
