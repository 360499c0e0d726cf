package relayffmpeg

import "context"

// ProbeInfo summarises a prober's findings about an input, enough to
// decide stream mapping (copy vs transcode, which tracks to select).
type ProbeInfo struct {
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
}

// Prober inspects an input URL before a Supervisor spawns FFmpeg against
// it. It's optional: a Supervisor with a nil Prober skips pre-probing and
// spawns directly against the resolved config.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeInfo, error)
}
