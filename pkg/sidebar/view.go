package sidebar

import (
	"strings"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/transport"
	"github.com/odvcencio/sidebar/pkg/visibility"
)

// Phase is the orchestrator's position in the fetch sequence.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseFetchingItem     Phase = "fetching_item"
	PhaseItemReady        Phase = "item_ready"
	PhaseFetchingMetadata Phase = "fetching_metadata"
	PhaseMetadataReady    Phase = "metadata_ready"
	PhaseError            Phase = "error"
)

// View is the snapshot handed to the presentation shell.
type View struct {
	InstanceID string `json:"instance_id"`
	TargetID   string `json:"target_id"`
	Phase      Phase  `json:"phase"`
	Loading    bool   `json:"loading"`

	Item    *item.Item            `json:"item,omitempty"`
	Editors []item.MetadataEditor `json:"metadata_editors,omitempty"`

	ShouldRender bool               `json:"should_render"`
	Panels       []visibility.Panel `json:"panels,omitempty"`

	Language     string             `json:"language"`
	Messages     map[string]string  `json:"messages,omitempty"`
	InitialPath  string             `json:"initial_path"`
	Capabilities visibility.Options `json:"capabilities"`

	ErrorCode sberrors.ErrorCode `json:"error_code,omitempty"`
	Err       error              `json:"-"`

	// Client is the transport handle panels use for their own reads.
	Client transport.Client `json:"-"`
}

// initialPath roots the default view for the router.
func initialPath(defaultView string) string {
	if strings.HasPrefix(defaultView, "/") {
		return defaultView
	}
	return "/" + defaultView
}
