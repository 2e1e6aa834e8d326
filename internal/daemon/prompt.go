package daemon

import (
	"sync"

	"github.com/rescale/cloudcmd/internal/constants"
)

// PromptPublisher is told about every prompt change.
type PromptPublisher interface {
	PublishPrompt(prompt string)
}

// Prompt holds the prompt shown by interactive shells.
type Prompt struct {
	mu      sync.Mutex
	current string
	pub     PromptPublisher
}

// NewPrompt starts at constants.DefaultPrompt. pub may be nil.
func NewPrompt(pub PromptPublisher) *Prompt {
	return &Prompt{current: constants.DefaultPrompt, pub: pub}
}

// Get returns the current prompt.
func (p *Prompt) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Set changes the prompt and broadcasts it if it changed.
func (p *Prompt) Set(prompt string) {
	p.mu.Lock()
	changed := p.current != prompt
	p.current = prompt
	p.mu.Unlock()

	if changed && p.pub != nil {
		p.pub.PublishPrompt(prompt)
	}
}

// Reset goes back to the default prompt.
func (p *Prompt) Reset() {
	p.Set(constants.DefaultPrompt)
}
