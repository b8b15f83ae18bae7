package thread

import (
	"context"
	"strings"
)

// Domain ids. The facts table CHECK constraint admits exactly these.
const (
	Identity      = "identity"
	Preferences   = "preferences"
	Values        = "values"
	Relationships = "relationships"
	Events        = "events"
)

// Domains lists every domain in registry order.
var Domains = []string{Identity, Preferences, Values, Relationships, Events}

// Keywords holds the trigger terms for each domain. Multi-word entries are
// matched as phrases.
var Keywords = map[string][]string{
	Identity: {
		"yourself", "your name", "who are you", "assistant", "persona",
		"purpose", "identity", "personality",
	},
	Preferences: {
		"prefer", "preference", "favorite", "favourite", "like", "love", "hate",
		"dislike", "enjoy", "theme", "mode", "style", "setting", "tool", "want",
	},
	Values: {
		"value", "believe", "belief", "principle", "important", "care",
		"priority", "ethic", "moral", "honest", "matter",
	},
	Relationships: RelationWords,
	Events: {
		"when", "happened", "yesterday", "today", "tomorrow", "last week",
		"meeting", "birthday", "appointment", "trip", "plan", "schedule",
		"anniversary", "deadline", "event",
	},
}

// RelationWords are the relationship nouns that also name a profile
// ("user.dad").
var RelationWords = []string{
	"dad", "father", "mom", "mother", "parent", "brother", "sister", "sibling",
	"wife", "husband", "partner", "friend", "family", "son", "daughter",
	"kid", "child", "colleague", "boss", "coworker", "grandma", "grandpa",
}

var names = map[string]string{
	Identity:      "Identity",
	Preferences:   "Preferences",
	Values:        "Values",
	Relationships: "Relationships",
	Events:        "Events",
}

// Registry is the closed, ordered set of threads.
type Registry struct {
	threads []Adapter
	byID    map[string]Adapter
}

// NewRegistry builds the standard five fact threads over r.
func NewRegistry(r FactReader) *Registry {
	adapters := make([]Adapter, 0, len(Domains))
	for _, d := range Domains {
		adapters = append(adapters, NewFactThread(d, names[d], Keywords[d], r))
	}
	return NewRegistryOf(adapters...)
}

// NewRegistryOf builds a registry from explicit adapters, in order.
func NewRegistryOf(adapters ...Adapter) *Registry {
	reg := &Registry{byID: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		reg.threads = append(reg.threads, a)
		reg.byID[a.ID()] = a
	}
	return reg
}

// All returns the threads in registry order.
func (r *Registry) All() []Adapter { return r.threads }

// Get returns a thread by id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Index returns the registry position of id, or -1.
func (r *Registry) Index(id string) int {
	for i, a := range r.threads {
		if a.ID() == id {
			return i
		}
	}
	return -1
}

// Health reports every thread. A failing thread only affects its own entry.
func (r *Registry) Health(ctx context.Context) map[string]Status {
	out := make(map[string]Status, len(r.threads))
	for _, a := range r.threads {
		out[a.ID()] = safeHealth(ctx, a)
	}
	return out
}

func safeHealth(ctx context.Context, a Adapter) (st Status) {
	defer func() {
		if p := recover(); p != nil {
			st = Status{Status: HealthUnavailable, Message: "adapter panic"}
		}
	}()
	return a.Health(ctx)
}

// RelationOf returns the relationship noun named in a profile id
// ("user.dad" -> "dad"), or "".
func RelationOf(profileID string) string {
	if i := strings.LastIndexByte(profileID, '.'); i >= 0 {
		return profileID[i+1:]
	}
	return ""
}
