package bridge

import (
	"strings"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// TokenRule maps feed text to a signal. A rule matches when any of its
// tokens occurs in the line.
type TokenRule struct {
	Tokens []string
	Kind   SignalKind
	Target state.State
}

// normalize lowercases s and drops separators, so "curtain tripped",
// "curtainTripped" and "curtain_tripped" compare equal.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// DefaultTokens returns the token table for the stand control software
// feed. Order matters: the first matching rule wins.
func DefaultTokens() []TokenRule {
	rules := []TokenRule{
		{Tokens: []string{"curtain tripped"}, Kind: SignalCurtain},
		{Tokens: []string{"stopping", "stopped"}, Kind: SignalPause},
		{Tokens: []string{"starting", "started"}, Kind: SignalResume},
		{
			Tokens: []string{"picked up chip from tray", "MoveChipFromTrayToSocket", "pickingChips"},
			Kind:   SignalAdvance,
			Target: state.StateMovingChipToSocket,
		},
		{Tokens: []string{"jumped to dat"}, Kind: SignalAdvance, Target: state.StateTesting},
	}
	for _, f := range state.Faults {
		rules = append(rules, TokenRule{Tokens: []string{string(f)}, Kind: SignalFault, Target: f})
	}
	for _, s := range state.NormalCycle {
		if s == state.StateGround {
			continue
		}
		rules = append(rules, TokenRule{Tokens: []string{string(s)}, Kind: SignalAdvance, Target: s})
	}
	rules = append(rules, TokenRule{Tokens: []string{string(state.StateGround)}, Kind: SignalGround})
	return rules
}

// Matcher finds the first rule a line matches.
type Matcher struct {
	rules []TokenRule
	keys  [][]string
}

// NewMatcher prepares rules for matching.
func NewMatcher(rules []TokenRule) *Matcher {
	m := &Matcher{rules: rules, keys: make([][]string, len(rules))}
	for i, r := range rules {
		for _, t := range r.Tokens {
			m.keys[i] = append(m.keys[i], normalize(t))
		}
	}
	return m
}

// Match returns the signal for line, or false if no rule matches.
func (m *Matcher) Match(line string) (Signal, bool) {
	n := normalize(line)
	if n == "" {
		return Signal{}, false
	}
	for i, r := range m.rules {
		for _, k := range m.keys[i] {
			if strings.Contains(n, k) {
				return NewSignal(r.Kind, r.Target, line), true
			}
		}
	}
	return Signal{}, false
}
