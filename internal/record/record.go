// Package record defines the plain data-model types carried through the
// pipeline as JSON-lines artifact records. These mirror the field
// vocabulary the expression engine's field registry exposes, but unlike a
// database row they carry no persistence concerns: a Channel or
// EpgProgramme here is a pipeline-stage-to-pipeline-stage value object,
// serialized to and from a stage's artifact file with encoding/json.
package record

import "time"

// Channel is a single channel entry discovered from a stream source,
// after any stage has had a chance to modify it.
type Channel struct {
	ID            string            `json:"id"`
	SourceID      string            `json:"source_id"`
	SourceName    string            `json:"source_name,omitempty"`
	SourceType    string            `json:"source_type,omitempty"`
	SourceURL     string            `json:"source_url,omitempty"`
	ExtID         string            `json:"ext_id,omitempty"`
	TvgID         string            `json:"tvg_id,omitempty"`
	TvgName       string            `json:"tvg_name,omitempty"`
	TvgLogo       string            `json:"tvg_logo,omitempty"`
	TvgShift      float64           `json:"tvg_shift,omitempty"`
	TvgLanguage   string            `json:"tvg_language,omitempty"`
	TvgCountry    string            `json:"tvg_country,omitempty"`
	GroupTitle    string            `json:"group_title,omitempty"`
	ChannelName   string            `json:"channel_name"`
	ChannelNumber int               `json:"channel_number,omitempty"`
	StreamURL     string            `json:"stream_url"`
	StreamType    string            `json:"stream_type,omitempty"`
	Radio         bool              `json:"radio,omitempty"`
	IsAdult       bool              `json:"is_adult,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy, so a pipeline stage can mutate its own
// working copy without aliasing the accumulator's stored record.
func (c *Channel) Clone() *Channel {
	cp := *c
	if c.Extra != nil {
		cp.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// EpgProgramme is a single programme entry from an EPG source.
type EpgProgramme struct {
	ID                   string    `json:"id"`
	SourceID             string    `json:"source_id"`
	SourceName           string    `json:"source_name,omitempty"`
	ChannelID            string    `json:"channel_id"`
	Start                time.Time `json:"start"`
	Stop                 time.Time `json:"stop"`
	ProgrammeTitle       string    `json:"programme_title"`
	ProgrammeDescription string    `json:"programme_description,omitempty"`
	ProgrammeCategory    string    `json:"programme_category,omitempty"`
	ProgrammeEpisode     string    `json:"programme_episode,omitempty"`
	ProgrammeSeason      string    `json:"programme_season,omitempty"`
	ProgrammeIcon        string    `json:"programme_icon,omitempty"`
}

// Clone returns a shallow copy (EpgProgramme has no reference fields).
func (p *EpgProgramme) Clone() *EpgProgramme {
	cp := *p
	return &cp
}

// StreamSource describes where a set of channels was ingested from.
type StreamSource struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"` // m3u, xtream
	URL            string `json:"url"`
	UpdateSchedule string `json:"update_schedule,omitempty"` // cron expression
}

// EpgSource describes where a set of programmes was ingested from.
type EpgSource struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"` // xmltv
	URL            string `json:"url"`
	UpdateSchedule string `json:"update_schedule,omitempty"`
}

// FilterRule is the persisted shape of a stream/EPG filter rule, mapped
// into expression.FilterRuleSpec by the filtering stage.
type FilterRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"` // stream_filter or epg_filter
	Expr     string `json:"expr"`
	Priority int    `json:"priority"`
	Inverse  bool   `json:"inverse,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// DataMappingRule is the persisted shape of a stream/EPG data-mapping
// rule, mapped into expression.MappingRuleSpec by the mapping stage.
type DataMappingRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"` // stream_data_mapping or epg_data_mapping
	Expr     string `json:"expr"`
	Priority int    `json:"priority"`
	Disabled bool   `json:"disabled,omitempty"`
}
