package agent

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/rendis/scenecraft/internal/llm"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// PromptData is what every template sees.
type PromptData struct {
	UserQuery  string
	Scene      string
	Catalog    string
	Guidelines string
}

// Prompts renders the embedded prompt templates.
type Prompts struct {
	intent *template.Template
	chat   *template.Template
	edits  map[Intent]*template.Template
}

// LoadPrompts parses the embedded templates.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{edits: make(map[Intent]*template.Template)}

	var err error
	if p.intent, err = template.ParseFS(promptFS, "prompts/intent.tmpl"); err != nil {
		return nil, fmt.Errorf("parse intent prompt: %w", err)
	}
	if p.chat, err = template.ParseFS(promptFS, "prompts/chat.tmpl"); err != nil {
		return nil, fmt.Errorf("parse chat prompt: %w", err)
	}
	for _, i := range EditIntents {
		name := string(i) + ".tmpl"
		t, err := template.New(name).ParseFS(promptFS, "prompts/"+name, "prompts/edit.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", i, err)
		}
		p.edits[i] = t
	}
	return p, nil
}

// Intent renders the classification prompt.
func (p *Prompts) Intent(d PromptData) ([]llm.Message, error) {
	return render(p.intent, d)
}

// Chat renders the chat prompt.
func (p *Prompts) Chat(d PromptData) ([]llm.Message, error) {
	return render(p.chat, d)
}

// Edit renders the prompt of an edit intent.
func (p *Prompts) Edit(i Intent, d PromptData) ([]llm.Message, error) {
	t, ok := p.edits[i]
	if !ok {
		return nil, fmt.Errorf("no prompt for intent %s", i)
	}
	return render(t, d)
}

func render(t *template.Template, d PromptData) ([]llm.Message, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return llm.User(buf.String()), nil
}
