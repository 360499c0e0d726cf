package expression

// ExpressionDomain represents the logical domain in which an expression is
// evaluated. This allows for context-specific field validation and field
// set selection. Filter and data-mapping domains are split from the
// underlying "rule" domains: a StreamRule/EpgRule expression is a
// general-purpose condition (used outside the filter/mapping pipeline
// stages proper, e.g. for ad-hoc field validation or client-context
// decisions) restricted to the read-only field set for its source kind,
// whereas the *Filter and *DataMapping domains additionally expose the
// mutation-target fields their stage needs.
type ExpressionDomain string

const (
	// DomainStreamFilter is for stream filtering expressions.
	DomainStreamFilter ExpressionDomain = "stream_filter"

	// DomainEpgFilter is for EPG filtering expressions.
	DomainEpgFilter ExpressionDomain = "epg_filter"

	// DomainStreamDataMapping is for stream data mapping expressions.
	DomainStreamDataMapping ExpressionDomain = "stream_data_mapping"

	// DomainEpgDataMapping is for EPG data mapping expressions.
	DomainEpgDataMapping ExpressionDomain = "epg_data_mapping"

	// DomainStreamRule is for general-purpose stream-scoped conditions
	// evaluated outside the filter/mapping pipeline stages.
	DomainStreamRule ExpressionDomain = "stream_rule"

	// DomainEpgRule is for general-purpose EPG-scoped conditions evaluated
	// outside the filter/mapping pipeline stages.
	DomainEpgRule ExpressionDomain = "epg_rule"
)

// ParseExpressionDomain parses a domain string into an ExpressionDomain.
// Returns the domain and true if valid, or an empty domain and false if invalid.
func ParseExpressionDomain(s string) (ExpressionDomain, bool) {
	switch s {
	case "stream_filter", "stream":
		return DomainStreamFilter, true
	case "epg_filter", "epg":
		return DomainEpgFilter, true
	case "stream_mapping", "stream_data_mapping", "stream_datamapping":
		return DomainStreamDataMapping, true
	case "epg_mapping", "epg_data_mapping", "epg_datamapping":
		return DomainEpgDataMapping, true
	case "stream_rule":
		return DomainStreamRule, true
	case "epg_rule":
		return DomainEpgRule, true
	default:
		return "", false
	}
}

// IsFilterDomain returns true if the domain is a filtering domain.
func (d ExpressionDomain) IsFilterDomain() bool {
	return d == DomainStreamFilter || d == DomainEpgFilter
}

// IsMappingDomain returns true if the domain is a data mapping domain.
func (d ExpressionDomain) IsMappingDomain() bool {
	return d == DomainStreamDataMapping || d == DomainEpgDataMapping
}

// IsRuleDomain returns true if the domain is a general-purpose rule domain.
func (d ExpressionDomain) IsRuleDomain() bool {
	return d == DomainStreamRule || d == DomainEpgRule
}

// IsStreamDomain returns true if the domain is for stream data.
func (d ExpressionDomain) IsStreamDomain() bool {
	return d == DomainStreamFilter || d == DomainStreamDataMapping || d == DomainStreamRule
}

// IsEPGDomain returns true if the domain is for EPG data.
func (d ExpressionDomain) IsEPGDomain() bool {
	return d == DomainEpgFilter || d == DomainEpgDataMapping || d == DomainEpgRule
}

// AllowsMutation returns true if expressions in this domain may carry
// SET/APPEND/REMOVE/DELETE actions rather than being pure conditions.
func (d ExpressionDomain) AllowsMutation() bool {
	return d.IsMappingDomain()
}

// String returns the string representation of the domain.
func (d ExpressionDomain) String() string {
	return string(d)
}
