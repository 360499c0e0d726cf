// Package shared provides utilities shared between pipeline stages.
package shared

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/pkg/m3u"
	"github.com/jmylchreest/m3uproxy-core/pkg/xmltv"
)

// BuildProxyStreamURL builds the proxy stream URL for a channel.
// Format: {baseURL}/proxy/{proxyId}/{channelId}
func BuildProxyStreamURL(baseURL, proxyID, channelID string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/proxy/%s/%s", baseURL, proxyID, channelID)
}

// ChannelToM3UEntry converts a record.Channel to an M3U Entry.
func ChannelToM3UEntry(ch *record.Channel, channelNum int) *m3u.Entry {
	entry := &m3u.Entry{
		Duration:      -1,
		TvgID:         ch.TvgID,
		TvgName:       ch.TvgName,
		TvgLogo:       ch.TvgLogo,
		GroupTitle:    ch.GroupTitle,
		Title:         ch.ChannelName,
		ChannelNumber: channelNum,
		URL:           ch.StreamURL,
	}

	// Use existing channel number if specified and we're not renumbering
	if ch.ChannelNumber > 0 && channelNum == 0 {
		entry.ChannelNumber = ch.ChannelNumber
	}

	return entry
}

// ChannelToXMLTVChannel converts a record.Channel to an XMLTV Channel.
func ChannelToXMLTVChannel(ch *record.Channel) *xmltv.Channel {
	displayName := ch.TvgName
	if displayName == "" {
		displayName = ch.ChannelName
	}

	return &xmltv.Channel{
		ID:          ch.TvgID,
		DisplayName: displayName,
		Icon:        ch.TvgLogo,
	}
}

// ProgrammeToXMLTVProgramme converts a record.EpgProgramme to an XMLTV Programme.
func ProgrammeToXMLTVProgramme(prog *record.EpgProgramme) *xmltv.Programme {
	return &xmltv.Programme{
		Start:       prog.Start,
		Stop:        prog.Stop,
		Channel:     prog.ChannelID,
		Title:       prog.ProgrammeTitle,
		Description: prog.ProgrammeDescription,
		Category:    prog.ProgrammeCategory,
		Icon:        prog.ProgrammeIcon,
		EpisodeNum:  prog.ProgrammeEpisode,
	}
}
