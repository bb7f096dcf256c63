package schema

import (
	"context"
	"fmt"

	"github.com/vk/hyperstate/internal/ctxlog"
	"github.com/vk/hyperstate/pkg/node"
)

// Versioned is the capability interface for record types with a serialized
// history. Version returns the current version of the type definition;
// UpgradeRules maps each older version v to the rule list that rewrites
// data recorded at v into version v+1.
//
// Every version in 0..Version()-1 must have an entry, even if empty: a
// missing entry is treated as an unupgradable gap, not as "no changes".
//
// Only top-level record types may implement Versioned. Upgrade re-tags
// the version of the record it is given, never of nested structs, so a
// nested type with its own history could never be brought forward.
// Version nested fields through the owning record's rules instead.
type Versioned interface {
	Version() int
	UpgradeRules() map[int][]RewriteRule
}

// RecordedVersion reads the version field of a record node. Data recorded
// before the type was versioned carries no field and counts as version 0.
func RecordedVersion(n *node.Node) (int, error) {
	v, ok := n.Get("version")
	if !ok {
		return 0, nil
	}
	if v.Kind() != node.KindInt {
		return 0, fmt.Errorf("version field must be an integer, got %s", v.Kind())
	}
	return int(v.AsInt()), nil
}

// Upgrade rewrites a record node recorded at an older version until it
// matches the version the descriptor expects, re-tagging the version field
// after each step. The input node is not modified; the returned node is
// the upgraded copy (or the input itself when no work was needed).
//
// A record newer than the descriptor is a hard error: downgrades are
// unsupported. So is any version in the chain without a registered rule
// list. Upgrade operates purely on the value tree; typed decode never
// performs upgrades itself.
func Upgrade(ctx context.Context, n *node.Node, desc *Struct) (*node.Node, error) {
	logger := ctxlog.FromContext(ctx)

	if n.Kind() != node.KindRecord {
		return nil, fmt.Errorf("cannot upgrade %s node: record expected", n.Kind())
	}
	recorded, err := RecordedVersion(n)
	if err != nil {
		return nil, err
	}
	if recorded == desc.Version {
		return n, nil
	}
	if recorded > desc.Version {
		return nil, &VersionError{Record: desc.Name, Recorded: recorded, Current: desc.Version, Gap: -1}
	}

	out := n.Clone()
	for v := recorded; v < desc.Version; v++ {
		rules, ok := desc.UpgradeRules[v]
		if !ok {
			return nil, &VersionError{Record: desc.Name, Recorded: recorded, Current: desc.Version, Gap: v}
		}
		for _, rule := range rules {
			if err := rule.Apply(out); err != nil {
				return nil, fmt.Errorf("upgrading %s from version %d: %s: %w", desc.Name, v, rule, err)
			}
		}
		out.SetFirst("version", node.Int(int64(v+1)))
		logger.Debug("Applied version upgrade step.", "record", desc.Name, "from", v, "to", v+1, "rules", len(rules))
	}
	return out, nil
}
