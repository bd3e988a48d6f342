// Package resolve implements field-level conflict detection and resolution
// between a local and a remote snapshot of the same logical record.
//
// Resolution is pure: no I/O, no clock reads, no mutation of the inputs.
// Persisting the audit trail of a resolution is the store's job.
package resolve

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// Strategy selects how a conflicting record pair is resolved.
type Strategy string

const (
	// ServerWins takes the remote snapshot verbatim.
	ServerWins Strategy = "server_wins"
	// ClientWins takes the local snapshot verbatim.
	ClientWins Strategy = "client_wins"
	// LastModified takes whichever snapshot has the strictly newer
	// modification timestamp; ties and missing timestamps favor remote.
	LastModified Strategy = "last_modified"
	// Merge starts from remote, keeps local-only fields, and lets
	// non-empty local values override the operator-authoritative fields.
	Merge Strategy = "merge"
)

// ErrUnknownStrategy marks a strategy name this package does not implement.
// It is a programming error at the call site, never a retryable condition.
var ErrUnknownStrategy = errors.New("unknown conflict strategy")

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ServerWins, ClientWins, LastModified, Merge:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// authoritativeFields are operator-entered fields the merge strategy always
// prefers from the local snapshot when the local value is non-empty. Free
// text and workflow status written in the field must survive a merge even
// when the remote row is otherwise newer.
var authoritativeFields = []string{"notes", "status"}

// FieldConflict describes one field whose value differs between snapshots.
type FieldConflict struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"local_value"`
	RemoteValue any    `json:"remote_value"`
}

// Resolution is the outcome of resolving one local/remote record pair.
type Resolution struct {
	// Resolved is the single version both stores should converge on.
	Resolved entity.Fields
	// Strategy is the strategy that produced Resolved.
	Strategy Strategy
	// HasConflict reports whether any non-metadata field differed.
	HasConflict bool
	// Conflicts lists the differing fields, sorted by field name.
	Conflicts []FieldConflict
}

// DetectConflicts compares the union of keys of both snapshots, excluding
// metadata fields, and returns one entry per differing key. A key present on
// only one side counts as a conflict against the other side's absent (nil)
// value. Results are sorted by field name so output is deterministic.
func DetectConflicts(local, remote entity.Fields) []FieldConflict {
	keys := make(map[string]bool, len(local)+len(remote))
	for k := range local {
		keys[k] = true
	}
	for k := range remote {
		keys[k] = true
	}

	var conflicts []FieldConflict
	for k := range keys {
		if entity.MetadataFields[k] {
			continue
		}
		lv, rv := local[k], remote[k]
		if reflect.DeepEqual(lv, rv) {
			continue
		}
		conflicts = append(conflicts, FieldConflict{
			Field:       k,
			LocalValue:  lv,
			RemoteValue: rv,
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Field < conflicts[j].Field
	})
	return conflicts
}

// IsNewer reports whether local is strictly newer than remote by modification
// timestamp. A missing or unparseable timestamp is older than any valid one;
// two missing timestamps compare as not-newer, so the remote side wins.
func IsNewer(local, remote entity.Fields) bool {
	lt, lok := local.Timestamp()
	rt, rok := remote.Timestamp()
	switch {
	case !lok:
		return false
	case !rok:
		return true
	default:
		return lt.After(rt)
	}
}

// Resolve detects field conflicts between the two snapshots and resolves
// them to a single version using the given strategy.
//
// The inputs are never mutated; Resolved is always a fresh map.
func Resolve(local, remote entity.Fields, strategy Strategy) (Resolution, error) {
	conflicts := DetectConflicts(local, remote)
	res := Resolution{
		Strategy:    strategy,
		HasConflict: len(conflicts) > 0,
		Conflicts:   conflicts,
	}

	switch strategy {
	case ServerWins:
		res.Resolved = remote.Clone()
	case ClientWins:
		res.Resolved = local.Clone()
	case LastModified:
		if IsNewer(local, remote) {
			res.Resolved = local.Clone()
		} else {
			res.Resolved = remote.Clone()
		}
	case Merge:
		res.Resolved = merge(local, remote)
	default:
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	return res, nil
}

// merge builds the merged snapshot: remote as the base, local-only keys
// preserved, operator-authoritative fields overridden with non-empty local
// values.
func merge(local, remote entity.Fields) entity.Fields {
	out := remote.Clone()

	for k, v := range local {
		if _, present := out[k]; !present {
			out[k] = v
		}
	}

	for _, k := range authoritativeFields {
		if v, ok := local[k]; ok && !entity.Empty(v) {
			out[k] = v
		}
	}

	return out
}
