package stageflow

import (
	"context"

	"github.com/stageflow/stageflow/store"
)

// StageType identifies how a stage is rendered and executed. The set is
// closed: the controller dispatches on these values and the registry
// fails fast on a type with no parser.
type StageType string

const (
	// StageMessage renders messages and, unless final, waits for input.
	StageMessage StageType = "message"
	// StageContainer executes its child fragments in declaration order.
	StageContainer StageType = "container"
	// StageAPICall performs an outbound HTTP call and extracts response
	// fields back into the user record.
	StageAPICall StageType = "api-call"
	// StageUpdateData writes the caller-supplied options into the user
	// record under the stage's storage base.
	StageUpdateData StageType = "update-data"
	// StageRedirect renders like a final message and immediately routes
	// onward in the same turn.
	StageRedirect StageType = "redirect"
	// StageRef redirects to another stage using the ref stage's own
	// overrides.
	StageRef StageType = "ref"
)

// Message is one user-visible unit handed to the Messenger. Text is the
// interpolated body; Extra carries channel-specific structure untouched.
type Message struct {
	Text  string         `json:"text,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Matcher is one input-matching rule of a stage's pattern catcher.
type Matcher struct {
	Pattern string `json:"pattern"`
	URI     string `json:"uri,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Continuation resumes a conversational turn with the user's next
// response. The transport invokes it when input arrives.
type Continuation func(ctx context.Context, response string)

// EndFunc receives the outcome of interpreting a response: the URI to
// advance to, or the error that prevented resolution.
type EndFunc func(ctx context.Context, err error, uri string)

// Conversation is an opaque handle for one open conversational turn,
// owned by the channel adapter.
type Conversation interface {
	ID() string
}

// Bot opens conversations on the underlying channel. It is supplied by
// the transport adapter and treated as external.
type Bot interface {
	StartConversation(message map[string]any) (Conversation, error)
}

// Messenger receives rendered output and talks to the channel adapter.
// All calls are fire-and-forget; the controller does not inspect results.
type Messenger interface {
	OnStart(info []Message, uri string)
	Reply(message Message, uri string)
	Ask(message Message, catchers []Matcher, uri string)
	OnEnd(postInfo []Message, end Continuation, uri string)
	AddConvo(convo Conversation)
}

// Parser is the per-stage-type capability that turns an assembled
// context into renderable output and consumes pattern matchers. One
// implementation is registered per StageType.
type Parser interface {
	// Messages returns the stage's message objects, pre-interpolation.
	Messages(sm *StateManager, convo Conversation) ([]Message, error)

	// PatternCatcher returns the stage's input-matching rules, before
	// global command matchers are appended.
	PatternCatcher(sm *StateManager) ([]Matcher, error)

	// URIForResponse maps a free-form user response to the next URI.
	URIForResponse(sm *StateManager, response string) (string, error)

	// End builds the continuation resolving a turn into a callback call.
	End(sm *StateManager, callback EndFunc) Continuation
}

// Hook is a named side-effect function run around a stage with the
// current context. Hooks must be defensive: a failing before-hook is
// logged, a failing after-hook aborts the enclosing dispatch.
type Hook func(ctx context.Context, sc *Context) error

// Context is the ephemeral per-stage-visit state assembled by a
// StateManager: merged stage definition, user snapshot, resolved options
// and transient memory. It is never shared across stages except by
// re-initializing the same StateManager for container children.
type Context struct {
	Stage          *StageDefinition
	Service        string
	Info           []any
	User           store.UserRecord
	Options        map[string]any
	Data           map[string]any
	Memory         map[string]any
	URIPayloadHash string
}

// AsMap flattens the context for variable interpolation: stage fields at
// the top level, with user, options, data, memory and service nested
// under their own keys.
func (c *Context) AsMap() map[string]any {
	m := map[string]any{}
	if c.Stage != nil {
		if stage, err := c.Stage.toMap(); err == nil {
			m = stage
		}
	}
	m["service"] = c.Service
	m["user"] = map[string]any(c.User)
	m["options"] = c.Options
	m["data"] = c.Data
	m["memory"] = c.Memory
	return m
}
