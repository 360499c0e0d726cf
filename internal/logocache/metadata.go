package logocache

import (
	"encoding/json"
	"strings"
	"time"
)

// sidecarMetadata is the JSON document stored alongside every cached logo
// image. It is consulted opportunistically: the substring search fallback
// and the background filesystem scan both read it to recover the
// descriptive fields that never live in the in-memory index.
type sidecarMetadata struct {
	URLHash      string    `json:"url_hash"`
	OriginalURL  string    `json:"original_url"`
	ChannelName  string    `json:"channel_name,omitempty"`
	ChannelGroup string    `json:"channel_group,omitempty"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Extra        string    `json:"extra,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	FileSize     int64     `json:"file_size"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

func (m *sidecarMetadata) touch() {
	m.LastAccessed = time.Now().UTC()
}

func (m *sidecarMetadata) marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func unmarshalSidecar(data []byte) (*sidecarMetadata, error) {
	var m sidecarMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// matchScore scores a sidecar's descriptive fields against a lowercased
// query substring, per the field weights the search ranking uses for its
// fallback pass.
func (m *sidecarMetadata) matchScore(query string) (int, string) {
	query = strings.ToLower(query)
	type weighted struct {
		field string
		value string
		score int
	}
	fields := []weighted{
		{"url", m.OriginalURL, 10},
		{"channel_name", m.ChannelName, 8},
		{"channel_group", m.ChannelGroup, 6},
		{"tags", strings.Join(m.Tags, " "), 4},
		{"description", m.Description, 3},
		{"extra", m.Extra, 2},
	}
	best, bestField := 0, ""
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if strings.Contains(strings.ToLower(f.value), query) && f.score > best {
			best, bestField = f.score, f.field
		}
	}
	return best, bestField
}
