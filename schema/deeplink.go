package schema

// DeepLinkKind selects the deep-link action variant.
type DeepLinkKind string

const (
	DeepLinkOpenFile     DeepLinkKind = "open_file"
	DeepLinkOpenFolder   DeepLinkKind = "open_folder"
	DeepLinkOpenGoto     DeepLinkKind = "open_goto"
	DeepLinkOpenDiff     DeepLinkKind = "open_diff"
	DeepLinkAddFolder    DeepLinkKind = "add_folder"
	DeepLinkOpenSettings DeepLinkKind = "open_settings"
	DeepLinkUnknown      DeepLinkKind = "unknown"
)

// DeepLinkAction is a parsed deep link. Only the fields of its kind are set.
type DeepLinkAction struct {
	Kind      DeepLinkKind `json:"kind"`
	Path      string       `json:"path,omitempty"`
	Line      int          `json:"line,omitempty"`
	Column    *int         `json:"column,omitempty"`
	Left      string       `json:"left,omitempty"`
	Right     string       `json:"right,omitempty"`
	NewWindow bool         `json:"newWindow,omitempty"`
	Section   string       `json:"section,omitempty"`
	RawURL    string       `json:"rawUrl,omitempty"`
}
