package core

import (
	"context"

	"github.com/jmylchreest/m3uproxy-core/internal/record"
)

// ChannelSource supplies the raw channel rows a stream source yields.
// Ingestion itself (fetching and parsing M3U/Xtream/etc. documents) is an
// external collaborator; the pipeline only needs something that can stream
// records out of one, matching the capability shape described for
// SourceHandler/ChannelIngestor. emit is called once per channel in
// whatever order the source yields them; an error from emit aborts the
// ingest for that source.
type ChannelSource interface {
	LoadChannels(ctx context.Context, source record.StreamSource, emit func(record.Channel) error) error
}

// ProgramSource is the EPG-source analogue of ChannelSource.
type ProgramSource interface {
	LoadPrograms(ctx context.Context, source record.EpgSource, emit func(record.EpgProgramme) error) error
}

// ChannelSourceFunc adapts a plain function to ChannelSource.
type ChannelSourceFunc func(ctx context.Context, source record.StreamSource, emit func(record.Channel) error) error

func (f ChannelSourceFunc) LoadChannels(ctx context.Context, source record.StreamSource, emit func(record.Channel) error) error {
	return f(ctx, source, emit)
}

// ProgramSourceFunc adapts a plain function to ProgramSource.
type ProgramSourceFunc func(ctx context.Context, source record.EpgSource, emit func(record.EpgProgramme) error) error

func (f ProgramSourceFunc) LoadPrograms(ctx context.Context, source record.EpgSource, emit func(record.EpgProgramme) error) error {
	return f(ctx, source, emit)
}

// StaticChannelSource is a ChannelSource fed from a fixed in-memory table,
// keyed by source ID. It exists for tests and for small deployments that
// pre-load channels without a live ingestor.
type StaticChannelSource map[string][]record.Channel

func (s StaticChannelSource) LoadChannels(ctx context.Context, source record.StreamSource, emit func(record.Channel) error) error {
	for _, ch := range s[source.ID] {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(ch); err != nil {
			return err
		}
	}
	return nil
}

// StaticProgramSource is the EPG analogue of StaticChannelSource.
type StaticProgramSource map[string][]record.EpgProgramme

func (s StaticProgramSource) LoadPrograms(ctx context.Context, source record.EpgSource, emit func(record.EpgProgramme) error) error {
	for _, p := range s[source.ID] {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}
