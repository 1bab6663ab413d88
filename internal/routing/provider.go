package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"mail-router/internal/common/cache"
	"mail-router/internal/common/logging"
)

// RuleRepository is the read-only contract with the rule store. The engine
// never writes rule definitions through it; match statistics go through the
// StatsSink instead.
type RuleRepository interface {
	// DomainRules returns the active routing rules for one domain, sorted
	// ascending by priority with a stable created-at tiebreak.
	DomainRules(ctx context.Context, domainID string) ([]*Rule, error)
	// TransportRules returns the active organization-wide transport rules,
	// same ordering contract.
	TransportRules(ctx context.Context, organizationID string) ([]*Rule, error)
}

// RuleSet is the ordered, compiled rule set applicable to one
// (organization, domain, direction) triple. Snapshots are immutable once
// built; concurrent evaluations share them without locking.
type RuleSet struct {
	Domain    []*CompiledRule
	Transport []*CompiledRule
}

// Merged returns a single evaluation order for the snapshot under the given
// policy. Domain rules are the more specific override, so domain-first is
// the default elsewhere.
func (rs *RuleSet) Merged(policy MergePolicy) []*CompiledRule {
	switch policy {
	case MergeTransportFirst:
		out := make([]*CompiledRule, 0, len(rs.Domain)+len(rs.Transport))
		out = append(out, rs.Transport...)
		return append(out, rs.Domain...)
	case MergeByPriority:
		out := make([]*CompiledRule, 0, len(rs.Domain)+len(rs.Transport))
		out = append(out, rs.Domain...)
		out = append(out, rs.Transport...)
		sortRules(out)
		return out
	default:
		out := make([]*CompiledRule, 0, len(rs.Domain)+len(rs.Transport))
		out = append(out, rs.Domain...)
		return append(out, rs.Transport...)
	}
}

// Len returns the total number of rules in the snapshot.
func (rs *RuleSet) Len() int {
	return len(rs.Domain) + len(rs.Transport)
}

// RuleSetProvider loads the ordered, active rule set for one evaluation.
type RuleSetProvider interface {
	Load(ctx context.Context, organizationID, domainID string, dir Direction) (*RuleSet, error)
	// Invalidate drops cached snapshots for one organization/domain after a
	// rule edit.
	Invalidate(ctx context.Context, organizationID, domainID string)
	// Flush drops every cached snapshot.
	Flush(ctx context.Context)
}

// CachingProvider wraps a RuleRepository with two cache levels: compiled
// snapshots in process memory, and raw rule JSON in an optional shared cache
// (Redis) so scaled-out evaluators amortize repository fetches. Rule sets
// are read far more often than written; a short TTL plus the invalidation
// hook keeps edits visible without hitting the store per message.
type CachingProvider struct {
	repo      RuleRepository
	snapshots *gocache.Cache
	remote    cache.Cache
	ttl       time.Duration
	logger    logging.Logger
}

// NewCachingProvider creates a provider with the given snapshot TTL.
// remote may be nil to run with the in-process level only.
func NewCachingProvider(repo RuleRepository, remote cache.Cache, ttl time.Duration, logger logging.Logger) *CachingProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingProvider{
		repo:      repo,
		snapshots: gocache.New(ttl, 2*ttl),
		remote:    remote,
		ttl:       ttl,
		logger:    logger,
	}
}

// Load returns the compiled snapshot for the triple, fetching and compiling
// on miss. A repository failure is reported as ErrRuleSetUnavailable; the
// caller fails open rather than blocking mail flow.
func (p *CachingProvider) Load(ctx context.Context, organizationID, domainID string, dir Direction) (*RuleSet, error) {
	key := snapshotKey(organizationID, domainID, dir)
	if v, found := p.snapshots.Get(key); found {
		return v.(*RuleSet), nil
	}

	domainRules, err := p.fetch(ctx, "domain:"+domainID, func(ctx context.Context) ([]*Rule, error) {
		return p.repo.DomainRules(ctx, domainID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: domain rules for %s: %v", ErrRuleSetUnavailable, domainID, err)
	}

	transportRules, err := p.fetch(ctx, "org:"+organizationID, func(ctx context.Context) ([]*Rule, error) {
		return p.repo.TransportRules(ctx, organizationID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transport rules for %s: %v", ErrRuleSetUnavailable, organizationID, err)
	}

	rs := p.compile(domainRules, transportRules, domainID, dir)
	p.snapshots.Set(key, rs, p.ttl)
	return rs, nil
}

// fetch pulls raw rules through the shared cache level when one is
// configured. Cache failures are ignored; the repository is authoritative.
func (p *CachingProvider) fetch(ctx context.Context, key string, load func(context.Context) ([]*Rule, error)) ([]*Rule, error) {
	if p.remote != nil {
		if data, found := p.remote.Get(ctx, "rules:"+key); found {
			var rules []*Rule
			if err := json.Unmarshal(data, &rules); err == nil {
				return rules, nil
			}
			p.logger.Warn("discarding undecodable cached rule payload",
				logging.Field{Key: "key", Value: key})
		}
	}

	rules, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if p.remote != nil {
		if data, err := json.Marshal(rules); err == nil {
			if err := p.remote.Set(ctx, "rules:"+key, data, p.ttl); err != nil {
				p.logger.Warn("failed to populate shared rule cache",
					logging.Field{Key: "key", Value: key},
					logging.Field{Key: "error", Value: err.Error()})
			}
		}
	}

	return rules, nil
}

// compile filters by activity, direction and domain allow-list, enforces
// deterministic ordering, and pre-compiles conditions.
func (p *CachingProvider) compile(domainRules, transportRules []*Rule, domainID string, dir Direction) *RuleSet {
	rs := &RuleSet{}

	for _, rule := range domainRules {
		if !rule.IsActive || !rule.AppliesTo(dir) {
			continue
		}
		rs.Domain = append(rs.Domain, CompileRule(rule, p.logger))
	}

	for _, rule := range transportRules {
		if !rule.IsActive || !rule.AppliesTo(dir) {
			continue
		}
		if !transportAppliesToDomain(rule, domainID) {
			continue
		}
		rs.Transport = append(rs.Transport, CompileRule(rule, p.logger))
	}

	sortRules(rs.Domain)
	sortRules(rs.Transport)
	return rs
}

// Invalidate drops the shared raw payloads and the in-process snapshots for
// one organization/domain pair. Called from the rule-change subscriber when
// the admin plane publishes an edit.
func (p *CachingProvider) Invalidate(ctx context.Context, organizationID, domainID string) {
	if p.remote != nil {
		_ = p.remote.Delete(ctx, "rules:org:"+organizationID)
		if domainID != "" {
			_ = p.remote.Delete(ctx, "rules:domain:"+domainID)
		}
	}
	for _, dir := range []Direction{DirectionInbound, DirectionOutbound} {
		p.snapshots.Delete(snapshotKey(organizationID, domainID, dir))
	}
}

// Flush drops every cached snapshot and shared payload. Wired to the
// periodic safety-net job and the operational flush endpoint.
func (p *CachingProvider) Flush(ctx context.Context) {
	p.snapshots.Flush()
	if p.remote != nil {
		if err := p.remote.Clear(ctx); err != nil {
			p.logger.Warn("failed to clear shared rule cache",
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
}

func snapshotKey(organizationID, domainID string, dir Direction) string {
	return organizationID + ":" + domainID + ":" + string(dir)
}

// transportAppliesToDomain checks the rule's domain allow-list; an empty
// list means all domains in the organization.
func transportAppliesToDomain(rule *Rule, domainID string) bool {
	if len(rule.ApplyToDomainIDs) == 0 {
		return true
	}
	for _, id := range rule.ApplyToDomainIDs {
		if id == domainID {
			return true
		}
	}
	return false
}

// sortRules orders by priority ascending with a created-at tiebreak so
// evaluation order is deterministic when priorities tie.
func sortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i].Rule, rules[j].Rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
