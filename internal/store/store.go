// Package store defines the guild configuration document store and the
// update operations every backend understands.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rainbot/rainbot/internal/models"
)

// ConfigStore owns GuildConfig documents. GetGuildConfig materialises and
// persists the default document on first access. Returned configs are
// snapshots and must not be mutated by callers.
type ConfigStore interface {
	GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
	UpdateGuildConfig(ctx context.Context, guildID string, ops ...Op) (*models.GuildConfig, error)
	AllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error)
}

type OpKind int

const (
	OpSet OpKind = iota
	OpPush
	OpPull
	OpAddToSet
	OpRemoveFromSet
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpPush:
		return "push"
	case OpPull:
		return "pull"
	case OpAddToSet:
		return "addToSet"
	case OpRemoveFromSet:
		return "removeFromSet"
	}
	return "unknown"
}

// Op is one atomic document mutation. Field is a document path; map fields
// accept one dotted key, e.g. "command_levels.warn add".
type Op struct {
	Kind   OpKind
	Field  string
	Value  any
	List   models.CaseList
	Record models.CaseRecord
	Match  CaseMatch
}

// CaseMatch selects case records. Zero fields match anything; an all-zero
// match selects nothing.
type CaseMatch struct {
	CaseNumber int
	SubjectID  string
	ExpiresAt  int64
}

func (m CaseMatch) IsZero() bool {
	return m.CaseNumber == 0 && m.SubjectID == "" && m.ExpiresAt == 0
}

func (m CaseMatch) Matches(r models.CaseRecord) bool {
	if m.IsZero() {
		return false
	}
	if m.CaseNumber != 0 && r.CaseNumber != m.CaseNumber {
		return false
	}
	if m.SubjectID != "" && r.SubjectID != m.SubjectID {
		return false
	}
	if m.ExpiresAt != 0 && r.ExpiresAt != m.ExpiresAt {
		return false
	}
	return true
}

func Set(field string, value any) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

func Push(list models.CaseList, rec models.CaseRecord) Op {
	return Op{Kind: OpPush, List: list, Record: rec}
}

func Pull(list models.CaseList, match CaseMatch) Op {
	return Op{Kind: OpPull, List: list, Match: match}
}

func AddToSet(field, value string) Op {
	return Op{Kind: OpAddToSet, Field: field, Value: value}
}

func RemoveFromSet(field, value string) Op {
	return Op{Kind: OpRemoveFromSet, Field: field, Value: value}
}

// SplitField splits "command_levels.warn add" into its root and key.
func SplitField(field string) (root, key string) {
	root, key, _ = strings.Cut(field, ".")
	return root, key
}

// ApplyOps mutates cfg in place and returns the settings roots touched by
// set-style operations. List operations are applied to the case slices.
func ApplyOps(cfg *models.GuildConfig, ops ...Op) ([]string, error) {
	touched := map[string]bool{}
	for _, op := range ops {
		switch op.Kind {
		case OpPush:
			if !validList(op.List) {
				return nil, fmt.Errorf("unknown case list %q", op.List)
			}
			for _, r := range cfg.Cases(op.List) {
				if r.CaseNumber == op.Record.CaseNumber {
					return nil, models.ErrDuplicateCase
				}
			}
			cfg.SetCases(op.List, append(cfg.Cases(op.List), op.Record))
		case OpPull:
			kept := make([]models.CaseRecord, 0, len(cfg.Cases(op.List)))
			for _, r := range cfg.Cases(op.List) {
				if !op.Match.Matches(r) {
					kept = append(kept, r)
				}
			}
			cfg.SetCases(op.List, kept)
		case OpSet:
			if err := applySet(cfg, op.Field, op.Value); err != nil {
				return nil, err
			}
			root, _ := SplitField(op.Field)
			touched[root] = true
		case OpAddToSet, OpRemoveFromSet:
			value, ok := op.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%s on %s: value must be a string", op.Kind, op.Field)
			}
			if err := applySetMembership(cfg, op.Field, value, op.Kind == OpAddToSet); err != nil {
				return nil, err
			}
			root, _ := SplitField(op.Field)
			touched[root] = true
		default:
			return nil, fmt.Errorf("unknown op kind %d", op.Kind)
		}
	}
	roots := make([]string, 0, len(touched))
	for r := range touched {
		roots = append(roots, r)
	}
	return roots, nil
}

func validList(list models.CaseList) bool {
	for _, l := range models.CaseLists {
		if l == list {
			return true
		}
	}
	return false
}

func applySet(cfg *models.GuildConfig, field string, value any) error {
	root, key := SplitField(field)
	bad := func() error { return fmt.Errorf("set %s: unexpected value type %T", field, value) }

	switch root {
	case models.FieldPrefix:
		v, ok := value.(string)
		if !ok {
			return bad()
		}
		cfg.Prefix = v
	case models.FieldTimeOffset:
		v, ok := value.(int)
		if !ok {
			return bad()
		}
		if v < models.MinTimeOffset || v > models.MaxTimeOffset {
			return fmt.Errorf("time offset %d is outside %d..%d", v, models.MinTimeOffset, models.MaxTimeOffset)
		}
		cfg.TimeOffsetHours = v
	case models.FieldMuteRole:
		v, ok := value.(string)
		if !ok {
			return bad()
		}
		cfg.MuteRoleID = v
	case models.FieldPermLevels:
		v, ok := value.([]models.PermLevel)
		if !ok {
			return bad()
		}
		cfg.PermLevels = v
	case models.FieldCommandLevels:
		if key != "" {
			v, ok := value.(int)
			if !ok {
				return bad()
			}
			if cfg.CommandLevels == nil {
				cfg.CommandLevels = map[string]int{}
			}
			cfg.CommandLevels[key] = v
			return nil
		}
		v, ok := value.(map[string]int)
		if !ok {
			return bad()
		}
		cfg.CommandLevels = v
	case models.FieldDetections:
		if key != "" {
			return cfg.Detections.Set(key, value)
		}
		v, ok := value.(models.DetectionConfig)
		if !ok {
			return bad()
		}
		cfg.Detections = v
	case models.FieldDetectionPunishments:
		if key != "" {
			v, ok := value.(models.PunishmentSpec)
			if !ok {
				return bad()
			}
			if err := validateDetectionPunishment(key, v); err != nil {
				return err
			}
			if cfg.DetectionPunishments == nil {
				cfg.DetectionPunishments = map[string]models.PunishmentSpec{}
			}
			cfg.DetectionPunishments[key] = v
			return nil
		}
		v, ok := value.(map[string]models.PunishmentSpec)
		if !ok {
			return bad()
		}
		for detector, spec := range v {
			if err := validateDetectionPunishment(detector, spec); err != nil {
				return err
			}
		}
		cfg.DetectionPunishments = v
	case models.FieldWarnPunishments:
		v, ok := value.([]models.WarnPunishment)
		if !ok {
			return bad()
		}
		seen := map[int]bool{}
		for _, wp := range v {
			if err := wp.Spec().Validate(); err != nil {
				return fmt.Errorf("warn punishment at %d: %w", wp.WarnNumber, err)
			}
			if seen[wp.WarnNumber] {
				return fmt.Errorf("%w: two warn punishments at %d", models.ErrInvalidPunishment, wp.WarnNumber)
			}
			seen[wp.WarnNumber] = true
		}
		cfg.WarnPunishments = v
	case models.FieldIgnoredChannels:
		v, ok := value.(map[string][]string)
		if !ok {
			return bad()
		}
		cfg.IgnoredChannels = v
	case models.FieldWhitelistedGuilds:
		v, ok := value.([]string)
		if !ok {
			return bad()
		}
		cfg.WhitelistedGuilds = v
	default:
		return fmt.Errorf("set: unknown field %q", field)
	}
	return nil
}

func validateDetectionPunishment(detector string, spec models.PunishmentSpec) error {
	if !knownDetector(detector) {
		return fmt.Errorf("unknown detector %q", detector)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%s punishment: %w", detector, err)
	}
	return nil
}

func knownDetector(name string) bool {
	for _, d := range models.DetectorNames {
		if d == name {
			return true
		}
	}
	return false
}

func applySetMembership(cfg *models.GuildConfig, field, value string, add bool) error {
	root, key := SplitField(field)
	var target *[]string
	switch {
	case root == models.FieldWhitelistedGuilds:
		target = &cfg.WhitelistedGuilds
	case root == models.FieldDetections && key == "filters":
		target = &cfg.Detections.Filters
	case root == models.FieldIgnoredChannels && key != "":
		if cfg.IgnoredChannels == nil {
			cfg.IgnoredChannels = map[string][]string{}
		}
		list := cfg.IgnoredChannels[key]
		updated := setMembership(list, value, add)
		cfg.IgnoredChannels[key] = updated
		return nil
	default:
		return fmt.Errorf("%q is not a set-like field", field)
	}
	*target = setMembership(*target, value, add)
	return nil
}

func setMembership(list []string, value string, add bool) []string {
	out := make([]string, 0, len(list)+1)
	found := false
	for _, v := range list {
		if v == value {
			found = true
			if !add {
				continue
			}
		}
		out = append(out, v)
	}
	if add && !found {
		out = append(out, value)
	}
	return out
}
