package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astits"
)

// maxProbePackets bounds how many MPEG-TS packets confirmRawTS reads
// before giving up; a well-formed stream carries its PAT within the first
// handful of packets.
const maxProbePackets = 64

// errNoProgramAssociation is returned when the probe exhausts its packet
// budget without finding a PAT/PMT pair.
var errNoProgramAssociation = errors.New("streaming: no PAT/PMT found in probe window")

// confirmRawTS sniffs the first bytes of a candidate raw-TS stream to
// confirm it demuxes as valid MPEG-TS (a PAT naming at least one program,
// followed by that program's PMT naming at least one elementary stream)
// before the classifier commits to DecisionPassthroughRawTS. A stream
// whose ".ts" extension is simply wrong — an HTML error page, a redirect
// target, a truncated response — is caught here instead of being relayed
// opaquely to clients.
func confirmRawTS(r io.Reader) error {
	dmx := astits.NewDemuxer(context.Background(), r)

	var pat *astits.PATData
	var sawPMT bool

	for i := 0; i < maxProbePackets; i++ {
		data, err := dmx.NextData()
		if err != nil {
			// Any demux error (EOF, short read, or a malformed-stream
			// error from astits) simply ends the probe window; whatever
			// PAT/PMT were already observed still count.
			break
		}
		if data.PAT != nil {
			pat = data.PAT
		}
		if data.PMT != nil && len(data.PMT.ElementaryStreams) > 0 {
			sawPMT = true
		}
		if pat != nil && len(pat.Programs) > 0 && sawPMT {
			return nil
		}
	}

	if pat == nil || len(pat.Programs) == 0 {
		return errNoProgramAssociation
	}
	if !sawPMT {
		return errNoProgramAssociation
	}
	return nil
}

// probeBytes is a small helper so callers that already hold a byte slice
// (e.g. from a bounded prefix fetch) don't need to wrap it themselves.
func probeBytes(data []byte) error {
	return confirmRawTS(bytes.NewReader(data))
}
