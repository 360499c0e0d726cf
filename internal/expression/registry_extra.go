package expression

import (
	"net/url"
	"sort"
	"strings"
)

// sensitiveQueryParams lists query parameter names stripped by SanitizeURL
// before a URL value is surfaced through a field (e.g. source_url,
// stream_url) to a log line, an error message, or a UI field listing.
var sensitiveQueryParams = map[string]bool{
	"username": true,
	"password": true,
	"token":    true,
	"auth":     true,
	"api_key":  true,
	"apikey":   true,
	"secret":   true,
}

// SanitizeURL strips userinfo (user:pass@host) and sensitive query
// parameters from a URL string, returning the original string unchanged
// if it does not parse as a URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.User = nil

	if u.RawQuery != "" {
		values := u.Query()
		for key := range values {
			if sensitiveQueryParams[strings.ToLower(key)] {
				values.Del(key)
			}
		}
		u.RawQuery = values.Encode()
	}

	return u.String()
}

// DescriptorsFor returns the field descriptors available for a given
// source kind ("stream" or "epg") and stage kind ("filter", "mapping", or
// "rule"), deduplicated and sorted by canonical name for stable listing
// output (e.g. an API response or a CLI help table).
func DescriptorsFor(r *FieldRegistry, sourceKind, stageKind string) []*FieldDefinition {
	var sourceDomain FieldDomain
	switch sourceKind {
	case "epg":
		sourceDomain = DomainEPG
	default:
		sourceDomain = DomainStream
	}

	var stageDomain FieldDomain
	switch stageKind {
	case "mapping", "rule":
		stageDomain = DomainRule
	default:
		stageDomain = DomainFilter
	}

	seen := make(map[string]bool)
	var out []*FieldDefinition

	for _, def := range r.ListByDomain(sourceDomain) {
		for _, d := range def.Domains {
			if d == stageDomain && !seen[def.Name] {
				seen[def.Name] = true
				out = append(out, def)
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AssertParity returns, sorted, the names in dynamicFieldNames that the
// registry declares neither as a canonical field nor as an alias; an empty
// result means every dynamic field has a descriptor. It does not panic, and
// registry fields that are absent from dynamicFieldNames are not reported.
func AssertParity(r *FieldRegistry, dynamicFieldNames []string) []string {
	known := make(map[string]bool)
	for _, def := range r.All() {
		known[def.Name] = true
		for _, alias := range def.Aliases {
			known[alias] = true
		}
	}

	var missing []string
	for _, name := range dynamicFieldNames {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
