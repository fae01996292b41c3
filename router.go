package stageflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/stageflow/stageflow/store"
)

// RouteFunc is the core function type for routing one URI.
type RouteFunc func(ctx context.Context, uri string, overrides map[string]any) error

// Middleware represents a function that wraps routing. Middleware can
// perform work before and after a route resolves: logging, metrics,
// tracing, or skipping the route entirely. Every hop through the graph
// passes through the chain.
type Middleware func(next RouteFunc) RouteFunc

// ParsedURI is the result of splitting a stage URI into its path and
// query-derived options.
type ParsedURI struct {
	URI     string
	Query   string
	Options map[string]any
}

// ParseURI strips optional single-quote wrapping and splits a stage URI
// into path, raw query and parsed options. Bracketed query keys
// (overrides[key]=v) become nested option maps.
func ParseURI(raw string) (ParsedURI, error) {
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		raw = raw[1 : len(raw)-1]
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ParsedURI{}, fmt.Errorf("parse uri %q: %w", raw, err)
	}

	return ParsedURI{
		URI:     u.Path,
		Query:   u.RawQuery,
		Options: parseQueryOptions(u.RawQuery),
	}, nil
}

func parseQueryOptions(rawQuery string) map[string]any {
	options := map[string]any{}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return options
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		value := vals[0]

		open := strings.Index(key, "[")
		if open > 0 && strings.HasSuffix(key, "]") {
			name := key[:open]
			sub := key[open+1 : len(key)-1]
			nested, _ := options[name].(map[string]any)
			if nested == nil {
				nested = map[string]any{}
				options[name] = nested
			}
			nested[sub] = value
			continue
		}

		options[key] = value
	}
	return options
}

// UserID derives the stable user identity from the channel name and the
// channel-scoped user id.
func UserID(service, channelUser string) string {
	return service + ":" + channelUser
}

// UserLocks serializes routing per user id. Sharing one UserLocks across
// controllers makes duplicate webhook deliveries for the same user queue
// instead of interleaving.
type UserLocks struct {
	mu    deadlock.Mutex
	locks map[string]*deadlock.Mutex
}

// NewUserLocks constructs an empty lock set.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*deadlock.Mutex)}
}

// Acquire locks the mutex for id and returns its release function.
func (l *UserLocks) Acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &deadlock.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Controller owns one conversation's progression through the stage
// graph. It resolves URIs, dispatches by stage type, drives container
// fan-out and runs the api-call and update-data executors.
type Controller struct {
	stages    *StageStore
	users     store.UserStore
	registry  *Registry
	bot       Bot
	messenger Messenger

	// message is the inbound envelope that opened this conversation,
	// handed to the bot when a new turn starts.
	message map[string]any
	userID  string
	service string

	logger     Logger
	cfg        Config
	httpClient *http.Client
	middleware []Middleware
	hooks      *HookPipeline
	locks      *UserLocks

	memMu    deadlock.Mutex
	memories map[string]map[string]any
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) ControllerOption {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

// WithHTTPClient overrides the client used for api-call stages.
func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) {
		c.httpClient = client
	}
}

// WithService sets the channel identifier used for context assembly and
// user identity. Defaults to the envelope's "service" field.
func WithService(service string) ControllerOption {
	return func(c *Controller) {
		c.service = service
	}
}

// WithUserSerialization makes Route acquire the per-user lock before
// walking the graph, so concurrent inbound events for one user run one
// at a time. Without it, duplicate deliveries may interleave.
func WithUserSerialization(locks *UserLocks) ControllerOption {
	return func(c *Controller) {
		c.locks = locks
	}
}

// WithMiddleware appends middleware to the routing chain.
func WithMiddleware(middleware ...Middleware) ControllerOption {
	return func(c *Controller) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// NewController builds the controller for one conversation. The message
// is the inbound envelope ("service" and "user" identify the sender).
func NewController(stages *StageStore, users store.UserStore, registry *Registry, bot Bot, messenger Messenger, message map[string]any, opts ...ControllerOption) *Controller {
	c := &Controller{
		stages:    stages,
		users:     users,
		registry:  registry,
		bot:       bot,
		messenger: messenger,
		message:   message,
		logger:    NewDefaultLogger(),
		cfg:       DefaultConfig(),
		memories:  make(map[string]map[string]any),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.service == "" {
		c.service, _ = message["service"].(string)
	}
	channelUser, _ := message["user"].(string)
	c.userID = UserID(c.service, channelUser)

	if c.cfg.HTTPTimeout <= 0 {
		c.cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if len(c.cfg.APIErrorStatuses) == 0 {
		c.cfg.APIErrorStatuses = DefaultConfig().APIErrorStatuses
	}
	if c.cfg.APIFailureText == "" {
		c.cfg.APIFailureText = DefaultConfig().APIFailureText
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.HTTPTimeout}
	}

	c.hooks = newHookPipeline(registry, c.logger)
	return c
}

// Use appends middleware to the routing chain.
func (c *Controller) Use(middleware ...Middleware) {
	c.middleware = append(c.middleware, middleware...)
}

// UserIdentity returns the derived stable user id for this conversation.
func (c *Controller) UserIdentity() string {
	return c.userID
}

// Route resolves a URI to a stage and executes it. It is the public
// entry point for inbound events and programmatic routing; when user
// serialization is enabled the per-user lock is held for the whole walk.
func (c *Controller) Route(ctx context.Context, uri string, overrides map[string]any) error {
	if c.locks != nil {
		release := c.locks.Acquire(c.userID)
		defer release()
	}
	return c.dispatch(ctx, uri, overrides)
}

// dispatch runs one routing hop through the middleware chain. Internal
// advancement (next-uri, ref, container completion) re-enters here so
// every hop is observed by middleware without re-acquiring the user
// lock.
func (c *Controller) dispatch(ctx context.Context, uri string, overrides map[string]any) error {
	handler := c.route
	for i := len(c.middleware) - 1; i >= 0; i-- {
		handler = c.middleware[i](handler)
	}
	return handler(ctx, uri, overrides)
}

func (c *Controller) route(ctx context.Context, uri string, overrides map[string]any) error {
	parsed, err := ParseURI(uri)
	if err != nil {
		c.logger.Error("routing failed: %v", err)
		return err
	}

	if optOverrides, ok := parsed.Options["overrides"].(map[string]any); ok {
		merged := make(map[string]any, len(overrides)+len(optOverrides))
		for k, v := range overrides {
			merged[k] = v
		}
		for k, v := range optOverrides {
			merged[k] = v
		}
		overrides = merged
	}

	c.logger.Info("hit route %s with options %v", parsed.URI, parsed.Options)

	def, ok := c.stages.Lookup(parsed.URI)
	if !ok {
		// Logged, not returned: an unknown route must not crash the
		// conversation.
		c.logger.Error("%v", &UnknownRouteError{URI: parsed.URI})
		return nil
	}

	merged, err := def.ApplyOverrides(overrides)
	if err != nil {
		c.logger.Error("routing %s failed: %v", parsed.URI, err)
		return err
	}

	if merged.Type == StageRef {
		// A ref stage's own overrides replace the caller's.
		return c.dispatch(ctx, merged.RefURI, merged.Overrides)
	}

	return c.runStageWithData(ctx, merged, parsed.Options)
}

func (c *Controller) runStageWithData(ctx context.Context, def *StageDefinition, options map[string]any) error {
	sm := newStateManager(c)
	if err := sm.Init(ctx, def, options); err != nil {
		c.logger.Error("state manager init for %s failed: %v", def.URI, err)
		return err
	}

	if sm.User().BotDisabled() {
		c.logger.Info("bot disabled for user %s, not routing %s", c.userID, def.URI)
		return nil
	}

	switch def.Type {
	case StageAPICall:
		return c.handleAPICall(ctx, sm)
	case StageUpdateData:
		return c.handleUpdateData(ctx, sm, options)
	default:
		return c.handleStage(ctx, sm, nil)
	}
}

// isStageComplete is the idempotence guard: a stage is complete when its
// storage property already holds a truthy value on the user record, or
// its URI is recorded in the session's completed-stages.
func (c *Controller) isStageComplete(sm *StateManager) bool {
	sc := sm.Context()
	if path := sc.Stage.StorageProperty; path != "" {
		if v, ok := sc.User.Pick(path); ok && store.Truthy(v) {
			return true
		}
	}
	return sc.User.HasCompleted(sc.Stage.URI)
}

// handleStage drives the message/container/redirect dispatch. next, when
// non-nil, is the continuation of an enclosing container iteration; a
// complete stage resumes it instead of routing to next-uri.
func (c *Controller) handleStage(ctx context.Context, sm *StateManager, next func(context.Context) error) error {
	uri := sm.URI()
	nextURI := sm.NextURI()

	if c.isStageComplete(sm) {
		if next != nil {
			return next(ctx)
		}
		return c.dispatch(ctx, nextURI, nil)
	}

	if hooks := sm.Stage().BeforeHooks; len(hooks) > 0 {
		c.hooks.RunDetached(ctx, sm.Context(), hooks)
	}

	if sm.IsContainer() {
		c.messenger.OnStart(sm.InfoMessages(), uri)
		return c.runContainer(ctx, sm)
	}

	if sm.IsFinal() {
		parts, err := sm.Parse(nil, nil)
		if err != nil {
			c.logger.Error("parsing stage %s failed: %v", uri, err)
			return err
		}

		for _, msg := range parts.Messages {
			c.messenger.Reply(msg, uri)
		}

		// Redirect stages both render and advance in the same turn.
		if sm.Stage().Type == StageRedirect {
			if err := c.dispatch(ctx, nextURI, nil); err != nil {
				return err
			}
		}

		if hooks := sm.Stage().AfterHooks; len(hooks) > 0 {
			if err := c.hooks.Run(ctx, sm.Context(), hooks); err != nil {
				c.logger.Error("after-hook pipeline for %s failed: %v", uri, err)
				return err
			}
		}
		return nil
	}

	// Non-final: open a turn and wait for the user's next message.
	convo, err := c.bot.StartConversation(c.message)
	if err != nil {
		c.logger.Error("starting conversation for %s failed: %v", uri, err)
		return err
	}
	c.messenger.AddConvo(convo)

	parts, err := sm.Parse(convo, nil)
	if err != nil {
		c.logger.Error("parsing stage %s failed: %v", uri, err)
		return err
	}

	c.messenger.OnStart(parts.Info, uri)

	for i, msg := range parts.Messages {
		if i == len(parts.Messages)-1 {
			c.messenger.Ask(msg, parts.PatternCatcher, uri)
		} else {
			c.messenger.Reply(msg, uri)
		}
	}

	c.messenger.OnEnd(parts.PostInfo, parts.End, uri)
	return nil
}

// runContainer visits the parent's child fragments in strict declaration
// order. Each child inherits the parent's URI, is re-initialized on the
// same state manager, and only hands control to the next sibling through
// its completion continuation; the walk therefore stops at the first
// child that opens a turn. Once every child is complete the parent's
// post_info is emitted and routing advances to next-uri.
func (c *Controller) runContainer(ctx context.Context, sm *StateManager) error {
	parent := sm.Stage()
	parentContext := sm.Context()

	var step func(ctx context.Context, i int) error
	step = func(ctx context.Context, i int) error {
		if i >= len(parent.Objects) {
			for _, msg := range renderPostInfo(parentContext) {
				c.messenger.Reply(msg, parent.URI)
			}
			return c.dispatch(ctx, parent.NextURI, nil)
		}

		child, err := stageFromMap(parent.Objects[i])
		if err != nil {
			c.logger.Error("decoding child %d of container %s failed: %v", i, parent.URI, err)
			return err
		}
		child.URI = parent.URI

		if err := sm.Init(ctx, child, nil); err != nil {
			c.logger.Error("init for child %d of container %s failed: %v", i, parent.URI, err)
			return err
		}

		return c.handleStage(ctx, sm, func(ctx context.Context) error {
			return step(ctx, i+1)
		})
	}

	return step(ctx, 0)
}

// handleUpdateData writes every caller-supplied option under the stage's
// storage base (default "session") in one update call, then advances.
func (c *Controller) handleUpdateData(ctx context.Context, sm *StateManager, params map[string]any) error {
	nextURI := sm.NextURI()

	if c.isStageComplete(sm) {
		return c.dispatch(ctx, nextURI, nil)
	}

	base := sm.Stage().StoragePropertyBase
	if base == "" {
		base = "session"
	}

	update := make(map[string]any, len(params))
	for key, value := range params {
		update[base+"."+key] = value
	}

	if _, err := c.users.Update(ctx, c.userID, update); err != nil {
		c.logger.Error("update-data for %s failed: %v", sm.URI(), err)
		return err
	}

	return c.dispatch(ctx, nextURI, nil)
}

// memoryFor returns the transient scratch map for one (uri, options)
// visit, shared across re-inits within this conversation.
func (c *Controller) memoryFor(hash string) map[string]any {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	m, ok := c.memories[hash]
	if !ok {
		m = map[string]any{}
		c.memories[hash] = m
	}
	return m
}
