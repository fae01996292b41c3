package stageflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/stageflow/stageflow/store"
)

// StateManager assembles one stage's context and exposes the generator
// methods the controller and Messenger use to render it. A manager may
// be re-initialized with new base data for container children; each Init
// builds a fresh context.
type StateManager struct {
	controller *Controller
	userID     string
	service    string
	context    *Context
}

func newStateManager(c *Controller) *StateManager {
	return &StateManager{
		controller: c,
		userID:     c.userID,
		service:    c.service,
	}
}

// initStep is one named step of the Init pipeline. A step failure
// short-circuits the remaining steps and rejects the whole Init.
type initStep struct {
	name string
	run  func(ctx context.Context) error
}

// Init assembles a fresh context from the stage definition and parsed
// options: info (honoring $omit), the user snapshot (recording the
// visited URI as a side effect), query-driven data, resolved options,
// the payload hash identifying this exact visit, and transient memory.
func (m *StateManager) Init(ctx context.Context, base *StageDefinition, options map[string]any) error {
	if options == nil {
		options = map[string]any{}
	}

	sc := &Context{
		Stage:   base,
		Service: m.service,
		Options: map[string]any{},
		Data:    map[string]any{},
	}

	steps := []initStep{
		{"info", func(context.Context) error {
			sc.Info = normalizeInfo(base.Info, options)
			return nil
		}},
		{"fetch-user", func(ctx context.Context) error {
			user, err := m.controller.users.Update(ctx, m.userID, map[string]any{
				"system.current_uri": base.URI,
			})
			if err != nil {
				return err
			}
			sc.User = user
			return nil
		}},
		{"query-data", func(context.Context) error {
			for key, path := range base.Query {
				if v, ok := sc.User.Pick(path); ok {
					sc.Data[key] = v
				}
			}
			return nil
		}},
		{"options", func(context.Context) error {
			for k, v := range base.Options {
				sc.Options[k] = v
			}
			for k, v := range options {
				sc.Options[k] = v
			}
			return nil
		}},
		{"payload-hash", func(context.Context) error {
			sc.URIPayloadHash = payloadHash(base.URI, sc.Options)
			return nil
		}},
		{"memory", func(context.Context) error {
			sc.Memory = m.controller.memoryFor(sc.URIPayloadHash)
			return nil
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("state manager init step %q: %w", step.name, err)
		}
	}

	m.context = sc
	return nil
}

// Context returns the current context. Valid only after a successful
// Init.
func (m *StateManager) Context() *Context {
	return m.context
}

// Stage returns the stage definition the context was built from.
func (m *StateManager) Stage() *StageDefinition {
	return m.context.Stage
}

// User returns the user snapshot taken at Init.
func (m *StateManager) User() store.UserRecord {
	return m.context.User
}

// URI returns the current stage's URI.
func (m *StateManager) URI() string {
	return m.context.Stage.URI
}

// NextURI returns the URI to advance to once the stage completes.
func (m *StateManager) NextURI() string {
	return m.context.Stage.NextURI
}

// IsFinal reports whether the stage renders without awaiting input.
func (m *StateManager) IsFinal() bool {
	return m.context.Stage.Final
}

// IsContainer reports whether the stage fans out into children.
func (m *StateManager) IsContainer() bool {
	return m.context.Stage.IsContainer()
}

func (m *StateManager) parser() (Parser, error) {
	return m.controller.registry.Parser(m.context.Stage.Type)
}

// Messages asks the stage type's parser for message objects and
// interpolates every text field against the context.
func (m *StateManager) Messages(convo Conversation) ([]Message, error) {
	parser, err := m.parser()
	if err != nil {
		return nil, err
	}

	messages, err := parser.Messages(m, convo)
	if err != nil {
		return nil, err
	}

	ctxMap := m.context.AsMap()
	for i := range messages {
		if messages[i].Text != "" {
			messages[i].Text = InjectVariables(messages[i].Text, ctxMap)
		}
	}
	return messages, nil
}

// InfoMessages normalizes the info list: string entries are
// interpolated and wrapped as text messages, structured entries pass
// through unchanged.
func (m *StateManager) InfoMessages() []Message {
	if len(m.context.Info) == 0 {
		return nil
	}

	ctxMap := m.context.AsMap()
	out := make([]Message, 0, len(m.context.Info))
	for _, entry := range m.context.Info {
		switch t := entry.(type) {
		case string:
			out = append(out, Message{Text: InjectVariables(t, ctxMap)})
		case map[string]any:
			text, _ := t["text"].(string)
			out = append(out, Message{Text: text, Extra: t})
		}
	}
	return out
}

// PostInfoMessages returns the stage's post_info texts, interpolated.
func (m *StateManager) PostInfoMessages() []Message {
	return renderPostInfo(m.context)
}

func renderPostInfo(sc *Context) []Message {
	if len(sc.Stage.PostInfo) == 0 {
		return nil
	}

	ctxMap := sc.AsMap()
	out := make([]Message, 0, len(sc.Stage.PostInfo))
	for _, text := range sc.Stage.PostInfo {
		out = append(out, Message{Text: InjectVariables(text, ctxMap)})
	}
	return out
}

// PatternCatcher returns the stage's input-matching rules with the
// global command matchers appended, so help/cancel style triggers are
// always available.
func (m *StateManager) PatternCatcher() ([]Matcher, error) {
	parser, err := m.parser()
	if err != nil {
		return nil, err
	}

	catchers, err := parser.PatternCatcher(m)
	if err != nil {
		return nil, err
	}
	return append(catchers, m.controller.registry.Commands()...), nil
}

// URIForResponse maps a free-form user response to the next URI.
func (m *StateManager) URIForResponse(response string) (string, error) {
	parser, err := m.parser()
	if err != nil {
		return "", err
	}
	return parser.URIForResponse(m, response)
}

// End builds the terminal continuation for a conversational turn. With
// no callback the default logs errors and routes to the URI the parser
// resolves from the response. Declared after-hooks wrap the continuation
// so they run before its captured logic.
func (m *StateManager) End(callback EndFunc) (Continuation, error) {
	parser, err := m.parser()
	if err != nil {
		return nil, err
	}

	if callback == nil {
		callback = func(ctx context.Context, err error, uri string) {
			if err != nil {
				m.controller.logger.Error("resolving response for %s failed: %v", m.URI(), err)
			}
			if routeErr := m.controller.Route(ctx, uri, nil); routeErr != nil {
				m.controller.logger.Error("routing after response to %s failed: %v", uri, routeErr)
			}
		}
	}

	end := parser.End(m, callback)
	if hooks := m.context.Stage.AfterHooks; len(hooks) > 0 {
		end = m.controller.hooks.WrapEnd(m.context, hooks, end)
	}
	return end, nil
}

// Parts is the bundle needed to drive a turn.
type Parts struct {
	Messages       []Message
	PatternCatcher []Matcher
	Info           []Message
	PostInfo       []Message
	End            Continuation
}

// Parse assembles the full render bundle in one call.
func (m *StateManager) Parse(convo Conversation, callback EndFunc) (*Parts, error) {
	messages, err := m.Messages(convo)
	if err != nil {
		return nil, err
	}

	catchers, err := m.PatternCatcher()
	if err != nil {
		return nil, err
	}

	end, err := m.End(callback)
	if err != nil {
		return nil, err
	}

	return &Parts{
		Messages:       messages,
		PatternCatcher: catchers,
		Info:           m.InfoMessages(),
		PostInfo:       m.PostInfoMessages(),
		End:            end,
	}, nil
}

// normalizeInfo turns the stage's info field into a list, dropping it
// entirely when the $omit option names "info".
func normalizeInfo(info any, options map[string]any) []any {
	if omitsInfo(options["$omit"]) {
		return nil
	}

	switch t := info.(type) {
	case nil:
		return nil
	case string:
		return []any{t}
	case []any:
		return t
	default:
		return []any{t}
	}
}

func omitsInfo(omit any) bool {
	switch t := omit.(type) {
	case string:
		return t == "info"
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s == "info" {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if s == "info" {
				return true
			}
		}
	}
	return false
}

// payloadHash identifies one exact (uri, options) visit. It is a
// deterministic SHA1-namespace UUID over the URI and the canonicalized
// options, so repeat visits with the same inputs hash identically.
func payloadHash(uri string, options map[string]any) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, options[k]))
	}

	payload := uri + "?" + strings.Join(pairs, "&")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(payload)).String()
}
