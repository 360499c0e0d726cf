package expression

import (
	"fmt"
	"sort"
	"sync"
)

// FilterRuleSpec is the minimal shape a FilterEvaluator needs from a
// persisted filter rule. Callers map their own record type into this.
type FilterRuleSpec struct {
	ID         string
	Name       string
	Expression string
	Domain     ExpressionDomain
	Priority   int
	Inverse    bool // negate the match result
	Disabled   bool
}

// FilterRuleStats tracks how often a rule has matched, for observability.
type FilterRuleStats struct {
	Evaluations uint64
	Matches     uint64
}

// FilterEvaluator evaluates a priority-ordered set of filter rules against
// a record, combining them with AND-of-rules semantics: a record survives
// the filter only if every enabled rule's effective match (after applying
// Inverse) is true. This mirrors how a chain of include/exclude filters
// composes in the source pipeline.
type FilterEvaluator struct {
	cache *ParserCache
	rules []FilterRuleSpec

	mu    sync.Mutex
	stats map[string]*FilterRuleStats
}

// NewFilterEvaluator builds a FilterEvaluator over rules, sorted into
// ascending priority order (lower Priority runs first). Disabled rules are
// kept in the set (so they still show up in Stats with zero evaluations)
// but are skipped during Evaluate.
func NewFilterEvaluator(rules []FilterRuleSpec, cache *ParserCache) *FilterEvaluator {
	sorted := make([]FilterRuleSpec, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	if cache == nil {
		cache = NewParserCache(0)
	}

	stats := make(map[string]*FilterRuleStats, len(sorted))
	for _, r := range sorted {
		stats[r.ID] = &FilterRuleStats{}
	}

	return &FilterEvaluator{cache: cache, rules: sorted, stats: stats}
}

// Evaluate returns whether record survives every enabled rule, plus the ID
// of the first rule that rejected it (empty if it survived all rules).
func (e *FilterEvaluator) Evaluate(ctx FieldValueAccessor) (survives bool, rejectedBy string, err error) {
	for _, rule := range e.rules {
		if rule.Disabled {
			continue
		}

		parsed, perr := e.cache.GetOrParse(rule.Expression)
		if perr != nil {
			return false, rule.ID, fmt.Errorf("rule %s: %w", rule.ID, perr)
		}

		evaluator := NewEvaluator()
		result, eerr := evaluator.Evaluate(parsed, ctx)
		if eerr != nil {
			return false, rule.ID, fmt.Errorf("rule %s: %w", rule.ID, eerr)
		}

		matched := result.Matches
		if rule.Inverse {
			matched = !matched
		}

		e.recordStat(rule.ID, matched)

		if !matched {
			return false, rule.ID, nil
		}
	}

	return true, "", nil
}

func (e *FilterEvaluator) recordStat(ruleID string, matched bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[ruleID]
	if !ok {
		s = &FilterRuleStats{}
		e.stats[ruleID] = s
	}
	s.Evaluations++
	if matched {
		s.Matches++
	}
}

// Stats returns a snapshot of per-rule evaluation counters.
func (e *FilterEvaluator) Stats() map[string]FilterRuleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]FilterRuleStats, len(e.stats))
	for id, s := range e.stats {
		out[id] = *s
	}
	return out
}

// MappingRuleSpec is the minimal shape a MappingEvaluator needs from a
// persisted data-mapping rule.
type MappingRuleSpec struct {
	ID         string
	Name       string
	Expression string
	Domain     ExpressionDomain
	Priority   int
	Disabled   bool // a tombstoned/soft-disabled rule is skipped but kept for audit history
}

// MappingEvaluator applies a priority-ordered set of data-mapping rules to
// a record, short-circuiting on StopOnFirstMatch if configured.
type MappingEvaluator struct {
	cache            *ParserCache
	rules            []MappingRuleSpec
	processor        *RuleProcessor
	stopOnFirstMatch bool

	mu    sync.Mutex
	stats map[string]*FilterRuleStats
}

// MappingEvaluatorOption configures a MappingEvaluator at construction.
type MappingEvaluatorOption func(*MappingEvaluator)

// WithStopOnFirstMatch makes the evaluator stop after the first rule whose
// condition matches, rather than applying every matching rule in order.
func WithStopOnFirstMatch() MappingEvaluatorOption {
	return func(m *MappingEvaluator) { m.stopOnFirstMatch = true }
}

// NewMappingEvaluator builds a MappingEvaluator over rules sorted into
// ascending priority order.
func NewMappingEvaluator(rules []MappingRuleSpec, cache *ParserCache, opts ...MappingEvaluatorOption) *MappingEvaluator {
	sorted := make([]MappingRuleSpec, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	if cache == nil {
		cache = NewParserCache(0)
	}

	stats := make(map[string]*FilterRuleStats, len(sorted))
	for _, r := range sorted {
		stats[r.ID] = &FilterRuleStats{}
	}

	m := &MappingEvaluator{
		cache:     cache,
		rules:     sorted,
		processor: NewRuleProcessor(),
		stats:     stats,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MappingOutcome reports what a MappingEvaluator.Apply pass did.
type MappingOutcome struct {
	RulesMatched     int
	AllModifications []FieldModification
	MatchedRuleIDs   []string
}

// Apply runs every enabled rule against ctx in priority order, mutating
// ctx via its SetFieldValue and accumulating a report of what changed.
func (m *MappingEvaluator) Apply(ctx ModifiableContext) (*MappingOutcome, error) {
	outcome := &MappingOutcome{}

	for _, rule := range m.rules {
		if rule.Disabled {
			continue
		}

		parsed, err := m.cache.GetOrParse(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}

		result, err := m.processor.Apply(parsed, ctx)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}

		m.recordStat(rule.ID, result.Matched)

		if !result.Matched {
			continue
		}

		outcome.RulesMatched++
		outcome.MatchedRuleIDs = append(outcome.MatchedRuleIDs, rule.ID)
		outcome.AllModifications = append(outcome.AllModifications, result.Modifications...)

		if m.stopOnFirstMatch {
			break
		}
	}

	return outcome, nil
}

func (m *MappingEvaluator) recordStat(ruleID string, matched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[ruleID]
	if !ok {
		s = &FilterRuleStats{}
		m.stats[ruleID] = s
	}
	s.Evaluations++
	if matched {
		s.Matches++
	}
}

// Stats returns a snapshot of per-rule evaluation counters.
func (m *MappingEvaluator) Stats() map[string]FilterRuleStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]FilterRuleStats, len(m.stats))
	for id, s := range m.stats {
		out[id] = *s
	}
	return out
}

// ValidateMappingTargets checks that every field a mapping rule's actions
// would write to is not marked read-only in the registry. This is a
// validation-time check (run when a rule is saved/activated), not a
// per-record runtime check.
func ValidateMappingTargets(registry *FieldRegistry, domain ExpressionDomain, parsed *ParsedExpression) []string {
	expr, ok := parsed.Expression.(*ConditionWithActions)
	if !ok {
		return nil
	}

	var violations []string
	for _, action := range expr.Actions {
		def, ok := registry.Get(action.Field)
		if !ok {
			continue
		}
		if def.ReadOnly {
			violations = append(violations, action.Field)
		}
	}
	return violations
}
