package permissions

import (
	"fmt"
	"sort"

	"github.com/rainbot/rainbot/internal/models"
)

// Command is a gated command or command group. Name is the qualified name,
// e.g. "warn add".
type Command struct {
	Name        string
	Level       int
	Subcommands []*Command
}

type Registry struct {
	byName map[string]*Command
}

func NewRegistry(cmds ...*Command) *Registry {
	r := &Registry{byName: map[string]*Command{}}
	for _, c := range cmds {
		r.add(c)
	}
	return r
}

func (r *Registry) add(c *Command) {
	r.byName[c.Name] = c
	for _, sub := range c.Subcommands {
		r.add(sub)
	}
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Names lists every qualified command name in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EffectiveLevel is the guild override for the command if present, else its
// static level. A group drops to the lowest effective level of any
// overridden subcommand so the group stays invokable.
func (r *Registry) EffectiveLevel(name string, cfg *models.GuildConfig) (int, error) {
	c, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown command %q", name)
	}
	level, _ := effective(c, cfg)
	return level, nil
}

// effective returns the command's level and whether it or anything below it
// is overridden.
func effective(c *Command, cfg *models.GuildConfig) (int, bool) {
	level := c.Level
	overridden := false
	if cfg != nil {
		if v, ok := cfg.CommandLevels[c.Name]; ok {
			level = v
			overridden = true
		}
	}
	for _, sub := range c.Subcommands {
		subLevel, subOverridden := effective(sub, cfg)
		if !subOverridden {
			continue
		}
		overridden = true
		if subLevel < level {
			level = subLevel
		}
	}
	return level, overridden
}

// CheckLevel returns an *models.UnderleveledError when level is below what
// the command requires in this guild.
func (r *Registry) CheckLevel(level int, name string, cfg *models.GuildConfig) error {
	need, err := r.EffectiveLevel(name, cfg)
	if err != nil {
		return err
	}
	if level < need {
		return &models.UnderleveledError{Command: name, Have: level, Need: need}
	}
	return nil
}
