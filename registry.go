package stageflow

import "fmt"

// Registry holds the process-scoped configuration resolved by name at
// runtime: one parser capability per stage type, the named hooks, and
// the global command matchers appended to every pattern catcher. It is
// assembled once during initialization and passed into the controller;
// registration is not safe for concurrent use with routing.
type Registry struct {
	parsers  map[StageType]Parser
	hooks    map[string]Hook
	commands []Matcher
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[StageType]Parser),
		hooks:   make(map[string]Hook),
	}
}

// RegisterParser binds a parser capability to a stage type.
// It panics if the type is already bound; registration happens at
// startup where a duplicate is a programming error.
func (r *Registry) RegisterParser(t StageType, p Parser) {
	if _, exists := r.parsers[t]; exists {
		panic(fmt.Sprintf("parser for stage type %q is already registered", t))
	}
	r.parsers[t] = p
}

// Parser resolves the capability for a stage type, failing fast on an
// unregistered one.
func (r *Registry) Parser(t StageType) (Parser, error) {
	p, ok := r.parsers[t]
	if !ok {
		return nil, &UnknownStageTypeError{Type: t}
	}
	return p, nil
}

// RegisterHook binds a named hook. It panics on a duplicate name.
func (r *Registry) RegisterHook(name string, h Hook) {
	if _, exists := r.hooks[name]; exists {
		panic(fmt.Sprintf("hook %q is already registered", name))
	}
	r.hooks[name] = h
}

// Hook resolves a hook by name.
func (r *Registry) Hook(name string) (Hook, error) {
	h, ok := r.hooks[name]
	if !ok {
		return nil, fmt.Errorf("hook %q not found in registry", name)
	}
	return h, nil
}

// AddCommands appends global command matchers (help/cancel style
// triggers) that are available regardless of stage type.
func (r *Registry) AddCommands(matchers ...Matcher) {
	r.commands = append(r.commands, matchers...)
}

// Commands returns the global command matchers.
func (r *Registry) Commands() []Matcher {
	return r.commands
}
