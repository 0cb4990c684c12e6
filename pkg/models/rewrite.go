package models

// Mode selects the rewriting style.
type Mode string

const (
	ModeFormal   Mode = "formal"
	ModeFriendly Mode = "friendly"
	ModeConcise  Mode = "concise"
	ModeAcademic Mode = "academic"
	ModeSimple   Mode = "simple"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeFormal, ModeFriendly, ModeConcise, ModeAcademic, ModeSimple}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// RewriteRequest is the public input of a rewrite call.
type RewriteRequest struct {
	Text                           string `json:"text" validate:"required"`
	Mode                           Mode   `json:"mode" validate:"required,oneof=formal friendly concise academic simple"`
	PreserveOriginalLanguageTokens bool   `json:"preserveOriginalLanguageTokens,omitempty"`
	MaxLength                      *int   `json:"maxLength,omitempty" validate:"omitempty,min=1,max=20000"`
}

// RewriteResponse is the public output of a successful rewrite call.
type RewriteResponse struct {
	RequestID        string        `json:"requestId"`
	InputText        string        `json:"inputText"`
	OutputText       string        `json:"outputText"`
	Diff             []DiffSegment `json:"diff"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	TokensUsed       int           `json:"tokensUsed"`
	Cached           bool          `json:"cached"`
	Warnings         []string      `json:"warnings"`
}

// GenerationResult is the outcome of one successful provider call.
type GenerationResult struct {
	Text             string `json:"text"`
	ModelUsed        string `json:"model_used"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
}

// DiffKind classifies a diff segment.
type DiffKind string

const (
	DiffEqual  DiffKind = "equal"
	DiffDelete DiffKind = "delete"
	DiffInsert DiffKind = "insert"
)

// DiffSegment is one run of a word-level edit script. Offsets are byte
// offsets: equal and delete segments index the original string, insert
// segments index the modified one.
type DiffSegment struct {
	Kind  DiffKind `json:"type"`
	Start int      `json:"startOffset"`
	End   int      `json:"endOffset"`
	Text  string   `json:"text"`
}
