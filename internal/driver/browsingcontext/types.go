package browsingcontext

// ReadinessState controls how long navigate waits.
type ReadinessState string

// Readiness states.
const (
	ReadinessNone        ReadinessState = "none"
	ReadinessInteractive ReadinessState = "interactive"
	ReadinessComplete    ReadinessState = "complete"
)

// CreateType selects a new tab or window.
type CreateType string

// Create types.
const (
	CreateTab    CreateType = "tab"
	CreateWindow CreateType = "window"
)

// Info describes a browsing context and its children.
type Info struct {
	Context        string  `json:"context"`
	URL            string  `json:"url"`
	UserContext    string  `json:"userContext,omitempty"`
	Parent         *string `json:"parent,omitempty"`
	OriginalOpener *string `json:"originalOpener,omitempty"`
	Children       []Info  `json:"children"`
}

// NavigationInfo is the payload of navigation lifecycle events.
type NavigationInfo struct {
	Context    string  `json:"context"`
	Navigation *string `json:"navigation"`
	Timestamp  uint64  `json:"timestamp"`
	URL        string  `json:"url"`
}

// GetTreeParameters are the parameters of browsingContext.getTree.
type GetTreeParameters struct {
	MaxDepth *int   `json:"maxDepth,omitempty"`
	Root     string `json:"root,omitempty"`
}

// GetTreeResult lists the top-level contexts.
type GetTreeResult struct {
	Contexts []Info `json:"contexts"`
}

// CreateParameters are the parameters of browsingContext.create.
type CreateParameters struct {
	Type             CreateType `json:"type"`
	ReferenceContext string     `json:"referenceContext,omitempty"`
	Background       bool       `json:"background,omitempty"`
}

// CreateResult identifies the created context.
type CreateResult struct {
	Context string `json:"context"`
}

// NavigateParameters are the parameters of browsingContext.navigate.
type NavigateParameters struct {
	Context string         `json:"context"`
	URL     string         `json:"url"`
	Wait    ReadinessState `json:"wait,omitempty"`
}

// NavigateResult describes the navigation.
type NavigateResult struct {
	Navigation *string `json:"navigation"`
	URL        string  `json:"url"`
}

// CloseParameters are the parameters of browsingContext.close.
type CloseParameters struct {
	Context      string `json:"context"`
	PromptUnload bool   `json:"promptUnload,omitempty"`
}
