/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bic implements the Best Instance Clock selector: a rule-ordered
// total ordering over candidate sync instances. It generalizes the
// pairwise TelcoDscmp reduction the sptp client's bmca.go runs over PTP
// Announce messages into a protocol-agnostic ranking that can compare a
// PTP instance against an NTP, chrony, PPS, GPS or free-run one.
package bic

import (
	"math"
	"sort"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
)

// Comparison is the outcome of one rule applied to a pair of candidates.
type Comparison int8

const (
	ABetter Comparison = 1
	Equal   Comparison = 0
	BBetter Comparison = -1
)

// Candidate is one sync instance as seen by the selector: its identity,
// published status, and the manual-selection flag the engine's
// select_instance setter controls.
type Candidate struct {
	Name     string
	Status   syncmodule.Status
	Selected bool // set by Select, observed by the MANUAL rule
	Rank     int  // tie-break identity; lower wins
}

// Rule is one pairwise predicate in a selection policy.
type Rule struct {
	Name    string
	Compare func(a, b Candidate) Comparison
}

// Ordinal rule names, used as stable identifiers in diagnostics and in
// caller-constructed custom policies.
const (
	RuleManual          = "MANUAL"
	RuleExtConstraints  = "EXT_CONSTRAINTS"
	RuleState           = "STATE"
	RuleNoAlarms        = "NO_ALARMS"
	RuleUserPriority    = "USER_PRIORITY"
	RuleClustering      = "CLUSTERING"
	RuleClockClass      = "CLOCK_CLASS"
	RuleTotalAccuracy   = "TOTAL_ACCURACY"
	RuleAllanVariance   = "ALLAN_VARIANCE"
	RuleStepsRemoved    = "STEPS_REMOVED"
	RuleTieBreak        = "TIE_BREAK"
)

func cmpFloat(a, b float64) Comparison {
	switch {
	case a < b:
		return ABetter
	case a > b:
		return BBetter
	default:
		return Equal
	}
}

func cmpIntSmallerWins(a, b int) Comparison {
	switch {
	case a < b:
		return ABetter
	case a > b:
		return BBetter
	default:
		return Equal
	}
}

var ruleManual = Rule{RuleManual, func(a, b Candidate) Comparison {
	switch {
	case a.Selected && !b.Selected:
		return ABetter
	case b.Selected && !a.Selected:
		return BBetter
	default:
		return Equal
	}
}}

var ruleExtConstraints = Rule{RuleExtConstraints, func(a, b Candidate) Comparison {
	return cmpIntSmallerWins(a.Status.Constraints.Scalar(), b.Status.Constraints.Scalar())
}}

var ruleState = Rule{RuleState, func(a, b Candidate) Comparison {
	return cmpIntSmallerWins(a.Status.State.Priority(), b.Status.State.Priority())
}}

var ruleNoAlarms = Rule{RuleNoAlarms, func(a, b Candidate) Comparison {
	aNone, bNone := a.Status.Alarms.None(), b.Status.Alarms.None()
	switch {
	case aNone && !bNone:
		return ABetter
	case bNone && !aNone:
		return BBetter
	default:
		return Equal
	}
}}

var ruleUserPriority = Rule{RuleUserPriority, func(a, b Candidate) Comparison {
	return cmpIntSmallerWins(a.Status.UserPriority, b.Status.UserPriority)
}}

// ruleClustering is the one rule where a larger value wins.
var ruleClustering = Rule{RuleClustering, func(a, b Candidate) Comparison {
	switch {
	case a.Status.ClusteringScore > b.Status.ClusteringScore:
		return ABetter
	case a.Status.ClusteringScore < b.Status.ClusteringScore:
		return BBetter
	default:
		return Equal
	}
}}

var ruleClockClass = Rule{RuleClockClass, func(a, b Candidate) Comparison {
	return cmpIntSmallerWins(int(a.Status.Grandmaster.ClockClass), int(b.Status.Grandmaster.ClockClass))
}}

var ruleTotalAccuracy = Rule{RuleTotalAccuracy, func(a, b Candidate) Comparison {
	ta := a.Status.Grandmaster.AccuracyNS + a.Status.LocalAccuracyNS
	tb := b.Status.Grandmaster.AccuracyNS + b.Status.LocalAccuracyNS
	return cmpFloat(ta, tb)
}}

var ruleAllanVariance = Rule{RuleAllanVariance, func(a, b Candidate) Comparison {
	return cmpFloat(a.Status.Grandmaster.AllanVariance, b.Status.Grandmaster.AllanVariance)
}}

var ruleStepsRemoved = Rule{RuleStepsRemoved, func(a, b Candidate) Comparison {
	return cmpIntSmallerWins(int(a.Status.Grandmaster.StepsRemoved), int(b.Status.Grandmaster.StepsRemoved))
}}

// ruleTieBreak guarantees determinism by stable identity (Rank, then
// Name); it must terminate every policy.
var ruleTieBreak = Rule{RuleTieBreak, func(a, b Candidate) Comparison {
	switch {
	case a.Rank < b.Rank:
		return ABetter
	case a.Rank > b.Rank:
		return BBetter
	case a.Name < b.Name:
		return ABetter
	case a.Name > b.Name:
		return BBetter
	default:
		return Equal
	}
}}

// DefaultPolicy is the rule order from spec §4.4, with TIE_BREAK always
// implicitly appended by Choose/Rank even if a caller-supplied policy
// omits it.
var DefaultPolicy = []Rule{
	ruleManual,
	ruleExtConstraints,
	ruleState,
	ruleNoAlarms,
	ruleUserPriority,
	ruleClustering,
	ruleClockClass,
	ruleTotalAccuracy,
	ruleAllanVariance,
	ruleStepsRemoved,
}

// effectivePolicy appends ruleTieBreak unless it's already present, so
// every comparison is eventually decisive.
func effectivePolicy(policy []Rule) []Rule {
	for _, r := range policy {
		if r.Name == RuleTieBreak {
			return policy
		}
	}
	out := make([]Rule, 0, len(policy)+1)
	out = append(out, policy...)
	out = append(out, ruleTieBreak)
	return out
}

// compare runs policy in order and returns the first rule's verdict that
// isn't Equal, plus the name of that decisive rule. If every rule is
// Equal (shouldn't happen once TIE_BREAK is included), it reports Equal
// under RuleTieBreak.
func compare(a, b Candidate, policy []Rule) (Comparison, string) {
	for _, r := range policy {
		if c := r.Compare(a, b); c != Equal {
			return c, r.Name
		}
	}
	return Equal, RuleTieBreak
}

// RankEntry describes one adjacent pair in a Ranking's final order and
// which rule decided between them.
type RankEntry struct {
	Candidate   Candidate
	DecisiveVsNext string
}

// Ranking is the result of Rank: a total order over the input candidates
// plus, for each adjacent pair, the rule that decided it.
type Ranking struct {
	Order   []Candidate
	Entries []RankEntry
}

// Winner returns the head of the ranking, or the zero Candidate and false
// if there were no candidates.
func (r Ranking) Winner() (Candidate, bool) {
	if len(r.Order) == 0 {
		return Candidate{}, false
	}
	return r.Order[0], true
}

// Rank performs the selector's total ordering (a stable sort by pairwise
// comparison under policy) and records, for each adjacent pair in the
// final order, the first rule that distinguished them. Rank is pure: it
// has no memory of prior calls, so hysteresis (if any) is the engine's
// responsibility between successive calls.
func Rank(candidates []Candidate, policy []Rule) Ranking {
	policy = effectivePolicy(policy)
	order := make([]Candidate, len(candidates))
	copy(order, candidates)

	sort.SliceStable(order, func(i, j int) bool {
		c, _ := compare(order[i], order[j], policy)
		return c == ABetter
	})

	entries := make([]RankEntry, len(order))
	for i := range order {
		decisive := RuleTieBreak
		if i+1 < len(order) {
			_, decisive = compare(order[i], order[i+1], policy)
		}
		entries[i] = RankEntry{Candidate: order[i], DecisiveVsNext: decisive}
	}
	return Ranking{Order: order, Entries: entries}
}

// Choose runs Rank and returns the winner alone, the form most callers
// (the engine's selection cadence) actually need.
func Choose(candidates []Candidate, policy []Rule) (Candidate, bool) {
	return Rank(candidates, policy).Winner()
}

// Select marks name as the manually selected candidate, clearing the
// flag on every other entry, implementing the engine-facing
// select_instance setter. It returns a new slice; Rank/Choose remain
// pure with respect to their input.
func Select(candidates []Candidate, name string) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Selected = c.Name == name
		out[i] = c
	}
	return out
}

// UnknownAccuracy is the sentinel for an instance whose grandmaster
// accuracy is not known, matching the "+Inf if unknown" data-model note.
var UnknownAccuracy = math.Inf(1)
