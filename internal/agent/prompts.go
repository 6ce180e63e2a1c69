package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds every prompt and canned Hebrew reply.
type Prompts struct {
	Router            string            `yaml:"router"`
	PlannerCommon     string            `yaml:"planner_common"`
	Planner           map[string]string `yaml:"planner"`
	Responder         string            `yaml:"responder"`
	ResponderSuffix   string            `yaml:"responder_suffix"`
	ConfirmInitial    string            `yaml:"confirm_initial"`
	ConfirmFinal      string            `yaml:"confirm_final"`
	Apology           string            `yaml:"apology"`
	FollowupExhausted string            `yaml:"followup_exhausted"`
	PersonQuestion    string            `yaml:"person_question"`
	PersonAdded       string            `yaml:"person_added"`
	PersonUnresolved  string            `yaml:"person_unresolved"`
	DigestHeader      string            `yaml:"digest_header"`
	DigestEmpty       string            `yaml:"digest_empty"`
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() *Prompts {
	var p Prompts
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return &p
}

// LoadPrompts overlays the YAML file at path on the embedded defaults. Keys
// missing from the file keep their default; an empty path returns the
// defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	p.merge(&override)
	return p, nil
}

func (p *Prompts) merge(o *Prompts) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&p.Router, o.Router)
	set(&p.PlannerCommon, o.PlannerCommon)
	set(&p.Responder, o.Responder)
	set(&p.ResponderSuffix, o.ResponderSuffix)
	set(&p.ConfirmInitial, o.ConfirmInitial)
	set(&p.ConfirmFinal, o.ConfirmFinal)
	set(&p.Apology, o.Apology)
	set(&p.FollowupExhausted, o.FollowupExhausted)
	set(&p.PersonQuestion, o.PersonQuestion)
	set(&p.PersonAdded, o.PersonAdded)
	set(&p.PersonUnresolved, o.PersonUnresolved)
	set(&p.DigestHeader, o.DigestHeader)
	set(&p.DigestEmpty, o.DigestEmpty)
	for k, v := range o.Planner {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if p.Planner == nil {
			p.Planner = make(map[string]string)
		}
		p.Planner[k] = v
	}
}

// PlannerFor returns the system prompt of a sub-agent's planner.
func (p *Prompts) PlannerFor(agent string) string {
	role := p.Planner[agent]
	if role == "" {
		role = p.Planner[AgentTasks]
	}
	return strings.TrimSpace(role) + "\n\n" + strings.TrimSpace(p.PlannerCommon)
}
