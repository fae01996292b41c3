// Package stageflow drives multi-turn conversational flows for chat
// bots from declarative JSON stage definitions.
//
// Operators author a directed graph of stages (messages, branching
// containers, external API calls, data writes, redirects) addressed by
// URI; the engine walks a user through that graph one turn at a time,
// persisting progress so conversations resume across messages and
// across process restarts.
//
// The Controller resolves a URI to a stage, applies override merging
// and ref-redirection, and dispatches on the stage type. A StateManager
// assembles the per-visit context (stage data, user snapshot, options,
// transient memory) and exposes the generators the Messenger renders
// through. Completed stages are never re-asked: the completion guard
// skips straight to next-uri. Channel transports, persistence internals
// and per-type rendering templates are external collaborators consumed
// through the Bot, Messenger, store.UserStore and Parser interfaces.
package stageflow
