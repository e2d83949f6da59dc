package llm

import (
	"fmt"
	"strings"
)

// Registry routes model names to provider adapters by prefix. The longest
// matching prefix wins, so "gpt-4o" can be routed separately from "gpt-".
type Registry struct {
	chat  map[string]Client
	embed map[string]Embedder
}

func NewRegistry() *Registry {
	return &Registry{
		chat:  make(map[string]Client),
		embed: make(map[string]Embedder),
	}
}

// RegisterChat binds the given model-name prefixes to a chat client.
func (r *Registry) RegisterChat(c Client, prefixes ...string) {
	for _, p := range prefixes {
		r.chat[p] = c
	}
}

// RegisterEmbed binds the given model-name prefixes to an embedder.
func (r *Registry) RegisterEmbed(e Embedder, prefixes ...string) {
	for _, p := range prefixes {
		r.embed[p] = e
	}
}

// ChatFor returns the chat client that claims the model name.
func (r *Registry) ChatFor(model string) (Client, error) {
	var best string
	for p := range r.chat {
		if strings.HasPrefix(model, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}
	return r.chat[best], nil
}

// EmbedderFor returns the embedder that claims the model name.
func (r *Registry) EmbedderFor(model string) (Embedder, error) {
	var best string
	for p := range r.embed {
		if strings.HasPrefix(model, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}
	return r.embed[best], nil
}
