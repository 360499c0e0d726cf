package record

import "strconv"

// ChannelAccessor adapts a *Channel to expression.FieldValueAccessor and
// expression.ModifiableContext so the filter/mapping evaluators can read
// and write its fields by name without reflection.
type ChannelAccessor struct {
	ch *Channel
}

// NewChannelAccessor wraps ch for expression evaluation. ch is mutated
// in place by SetFieldValue.
func NewChannelAccessor(ch *Channel) *ChannelAccessor {
	return &ChannelAccessor{ch: ch}
}

// GetFieldValue implements expression.FieldValueAccessor.
func (a *ChannelAccessor) GetFieldValue(name string) (string, bool) {
	c := a.ch
	switch name {
	case "channel_name", "name":
		return c.ChannelName, true
	case "tvg_id", "epg_id":
		return c.TvgID, true
	case "tvg_name":
		return c.TvgName, true
	case "tvg_logo", "logo":
		return c.TvgLogo, true
	case "tvg_language", "language", "lang":
		return c.TvgLanguage, true
	case "tvg_country", "country":
		return c.TvgCountry, true
	case "group_title", "group", "category":
		return c.GroupTitle, true
	case "stream_url", "url":
		return c.StreamURL, true
	case "channel_number", "number", "chno":
		return strconv.Itoa(c.ChannelNumber), true
	case "stream_type":
		return c.StreamType, true
	case "radio":
		return strconv.FormatBool(c.Radio), true
	case "is_adult", "adult":
		return strconv.FormatBool(c.IsAdult), true
	case "source_name":
		return c.SourceName, true
	case "source_type":
		return c.SourceType, true
	case "source_url":
		return c.SourceURL, true
	case "ext_id":
		return c.ExtID, true
	default:
		if c.Extra != nil {
			if v, ok := c.Extra[name]; ok {
				return v, true
			}
		}
		return "", false
	}
}

// SetFieldValue implements expression.ModifiableContext.
func (a *ChannelAccessor) SetFieldValue(name, value string) {
	c := a.ch
	switch name {
	case "channel_name", "name":
		c.ChannelName = value
	case "tvg_id", "epg_id":
		c.TvgID = value
	case "tvg_name":
		c.TvgName = value
	case "tvg_logo", "logo":
		c.TvgLogo = value
	case "tvg_language", "language", "lang":
		c.TvgLanguage = value
	case "tvg_country", "country":
		c.TvgCountry = value
	case "group_title", "group", "category":
		c.GroupTitle = value
	case "stream_url", "url":
		c.StreamURL = value
	case "channel_number", "number", "chno":
		if n, err := strconv.Atoi(value); err == nil {
			c.ChannelNumber = n
		}
	case "stream_type":
		c.StreamType = value
	case "radio":
		c.Radio = value == "true"
	case "is_adult", "adult":
		c.IsAdult = value == "true"
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]string)
		}
		c.Extra[name] = value
	}
}

// EpgProgrammeAccessor adapts a *EpgProgramme for expression evaluation.
type EpgProgrammeAccessor struct {
	p *EpgProgramme
}

// NewEpgProgrammeAccessor wraps p for expression evaluation.
func NewEpgProgrammeAccessor(p *EpgProgramme) *EpgProgrammeAccessor {
	return &EpgProgrammeAccessor{p: p}
}

// GetFieldValue implements expression.FieldValueAccessor.
func (a *EpgProgrammeAccessor) GetFieldValue(name string) (string, bool) {
	p := a.p
	switch name {
	case "programme_title", "program_title", "title":
		return p.ProgrammeTitle, true
	case "programme_description", "program_description", "description", "desc":
		return p.ProgrammeDescription, true
	case "programme_category", "program_category", "genre":
		return p.ProgrammeCategory, true
	case "programme_episode", "program_episode", "episode":
		return p.ProgrammeEpisode, true
	case "programme_season", "program_season", "season":
		return p.ProgrammeSeason, true
	case "programme_icon", "program_icon", "poster":
		return p.ProgrammeIcon, true
	case "programme_start", "program_start", "start", "start_time":
		return p.Start.Format("2006-01-02T15:04:05Z07:00"), true
	case "programme_stop", "program_stop", "stop", "end_time":
		return p.Stop.Format("2006-01-02T15:04:05Z07:00"), true
	case "source_name":
		return p.SourceName, true
	default:
		return "", false
	}
}

// SetFieldValue implements expression.ModifiableContext. Start/Stop are
// registry-marked read-only so mapping rules never reach this path for
// them; they fall through untouched here as a defensive no-op.
func (a *EpgProgrammeAccessor) SetFieldValue(name, value string) {
	p := a.p
	switch name {
	case "programme_title", "program_title", "title":
		p.ProgrammeTitle = value
	case "programme_description", "program_description", "description", "desc":
		p.ProgrammeDescription = value
	case "programme_category", "program_category", "genre":
		p.ProgrammeCategory = value
	case "programme_episode", "program_episode", "episode":
		p.ProgrammeEpisode = value
	case "programme_season", "program_season", "season":
		p.ProgrammeSeason = value
	case "programme_icon", "program_icon", "poster":
		p.ProgrammeIcon = value
	}
}
