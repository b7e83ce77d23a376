package catalog

import "strings"

// RuleOverride replaces a BackendConfig rule's delay and/or min_other_copies
// for FileStorages matching a process_type prefix or an exact data_slug.
// Fields left at their zero value inherit the base rule's value.
type RuleOverride struct {
	// DelaySet/Delay distinguish "override did not mention delay" from
	// "override set delay to 0", since 0 is itself a valid delay.
	DelaySet bool
	Delay    int

	MinOtherCopiesSet bool
	MinOtherCopies    int
}

// Rule is one rule kind's base configuration (copy or delete) for a backend.
type Rule struct {
	// Delay is the minimum age, in days, before the rule fires. Negative
	// disables the rule unconditionally.
	Delay int

	// MinOtherCopies is only meaningful for the delete rule: the minimum
	// number of DONE replicas that must remain on other backends after this
	// backend's replica is removed. Zero value is treated as "use the
	// package default of 1" by EffectiveRule.
	MinOtherCopies int

	// ProcessTypeOverrides is keyed by a process_type prefix; the longest
	// matching prefix wins.
	ProcessTypeOverrides map[string]RuleOverride

	// DataSlugOverrides is keyed by an exact data_slug; exact match only.
	// Takes precedence over ProcessTypeOverrides when both match.
	DataSlugOverrides map[string]RuleOverride
}

// DefaultMinOtherCopies is used when a delete rule does not specify
// min_other_copies.
const DefaultMinOtherCopies = 1

// BackendConfig is a backend's static policy configuration: its ranking
// among backends and its copy/delete rules.
type BackendConfig struct {
	Name     string
	Priority int
	Copy     Rule
	Delete   Rule
}

// EffectiveRule resolves the rule that applies to fs on this backend for the
// given rule, applying the override precedence from spec §4.5.3: an exact
// data_slug match wins outright; otherwise the longest matching process_type
// prefix applies; otherwise the base rule applies.
func (r Rule) EffectiveRule(fs FileStorage) (delay, minOtherCopies int) {
	delay = r.Delay
	minOtherCopies = r.MinOtherCopies
	if minOtherCopies == 0 {
		minOtherCopies = DefaultMinOtherCopies
	}

	if override, ok := r.DataSlugOverrides[fs.DataSlug]; ok {
		return applyOverride(override, delay, minOtherCopies)
	}

	if best, ok := longestPrefixMatch(r.ProcessTypeOverrides, fs.ProcessType); ok {
		return applyOverride(best, delay, minOtherCopies)
	}

	return delay, minOtherCopies
}

func applyOverride(o RuleOverride, baseDelay, baseMinOtherCopies int) (int, int) {
	delay := baseDelay
	if o.DelaySet {
		delay = o.Delay
	}
	minOtherCopies := baseMinOtherCopies
	if o.MinOtherCopiesSet {
		minOtherCopies = o.MinOtherCopies
	}
	return delay, minOtherCopies
}

// longestPrefixMatch returns the override whose key is the longest prefix of
// processType, or false if none match. An empty processType never matches.
func longestPrefixMatch(overrides map[string]RuleOverride, processType string) (RuleOverride, bool) {
	if processType == "" {
		return RuleOverride{}, false
	}

	var (
		best      RuleOverride
		bestLen   = -1
		bestFound bool
	)
	for prefix, override := range overrides {
		if len(prefix) <= bestLen {
			continue
		}
		if len(prefix) > 0 && strings.HasPrefix(processType, prefix) {
			best = override
			bestLen = len(prefix)
			bestFound = true
		}
	}
	return best, bestFound
}
