// Package visibility decides whether the sidebar can mount and whether it
// has anything to render. Every function here is pure.
package visibility

import "github.com/odvcencio/sidebar/pkg/item"

// Panel names a sidebar sub-panel.
type Panel string

const (
	PanelDetails  Panel = "details"
	PanelSkills   Panel = "skills"
	PanelActivity Panel = "activity"
	PanelMetadata Panel = "metadata"
	PanelTabs     Panel = "tabs"
)

// DetailsCapabilities are the details panel's sections.
type DetailsCapabilities struct {
	HasProperties      bool `json:"has_properties,omitempty" yaml:"has_properties"`
	HasNotices         bool `json:"has_notices,omitempty" yaml:"has_notices"`
	HasAccessStats     bool `json:"has_access_stats,omitempty" yaml:"has_access_stats"`
	HasClassification  bool `json:"has_classification,omitempty" yaml:"has_classification"`
	HasRetentionPolicy bool `json:"has_retention_policy,omitempty" yaml:"has_retention_policy"`
	HasVersions        bool `json:"has_versions,omitempty" yaml:"has_versions"`
}

// Any reports whether any details section is enabled.
func (d DetailsCapabilities) Any() bool {
	return d.HasProperties || d.HasNotices || d.HasAccessStats ||
		d.HasClassification || d.HasRetentionPolicy || d.HasVersions
}

// Options is everything the policy looks at besides fetched data.
type Options struct {
	HasActivityFeed   bool                `json:"has_activity_feed"`
	HasAdditionalTabs bool                `json:"has_additional_tabs"`
	HasMetadata       bool                `json:"has_metadata"`
	HasSkills         bool                `json:"has_skills"`
	Details           DetailsCapabilities `json:"details"`

	// MetadataFeatureEnabled must already carry its default (true).
	MetadataFeatureEnabled bool `json:"metadata_feature_enabled"`

	AdditionalTabs []item.AdditionalTab `json:"additional_tabs,omitempty"`
}

func canHaveDetails(opts Options) bool  { return opts.Details.Any() }
func canHaveActivity(opts Options) bool { return opts.HasActivityFeed }
func canHaveSkills(opts Options) bool   { return opts.HasSkills }
func canHaveTabs(opts Options) bool     { return opts.HasAdditionalTabs }

// A caller that turned the metadata feature off still gets a read-only
// metadata panel for instances other users added.
func canHaveMetadata(opts Options) bool {
	return opts.HasMetadata || !opts.MetadataFeatureEnabled
}

// EligibleToMount reports whether a sidebar for targetID could ever show
// content, before anything is fetched.
func EligibleToMount(targetID string, opts Options) bool {
	if targetID == "" {
		return false
	}
	return canHaveDetails(opts) ||
		canHaveActivity(opts) ||
		canHaveSkills(opts) ||
		canHaveMetadata(opts) ||
		canHaveTabs(opts)
}

// ShouldFetchMetadata reports whether the best-effort metadata editor
// fetch should run for a freshly loaded item.
func ShouldFetchMetadata(opts Options, it *item.Item) bool {
	return !opts.MetadataFeatureEnabled && it.MayHaveMetadata()
}

// Panels lists the panels that have content for the loaded data, in tab
// order. It returns nil when the item is absent.
func Panels(targetID string, opts Options, it *item.Item, editors []item.MetadataEditor) []Panel {
	if it == nil || !EligibleToMount(targetID, opts) {
		return nil
	}
	var panels []Panel
	if canHaveDetails(opts) {
		panels = append(panels, PanelDetails)
	}
	if canHaveSkills(opts) && it.HasSkills() {
		panels = append(panels, PanelSkills)
	}
	if canHaveActivity(opts) {
		panels = append(panels, PanelActivity)
	}
	if canHaveMetadata(opts) && (opts.MetadataFeatureEnabled || len(editors) > 0) {
		panels = append(panels, PanelMetadata)
	}
	if canHaveTabs(opts) && len(opts.AdditionalTabs) > 0 {
		panels = append(panels, PanelTabs)
	}
	return panels
}

// ShouldRender reports whether the sidebar renders at all. When false the
// caller renders nothing, not an empty shell.
func ShouldRender(targetID string, opts Options, it *item.Item, editors []item.MetadataEditor) bool {
	return len(Panels(targetID, opts, it, editors)) > 0
}
