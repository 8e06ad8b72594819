package audio

import (
	"time"

	"voxstream/internal/domain"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultChunkMs    = 100

	bytesPerSample = 2
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	return f
}

// BytesPerSecond is the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	f = f.normalized()
	return f.SampleRate * bytesPerSample * f.Channels
}

// Duration is the playback time represented by n bytes of PCM.
func (f Format) Duration(n int) time.Duration {
	rate := f.BytesPerSecond()
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// ChunkBytes sizes a chunk window: sampleRate × bytesPerSample × channels × ms / 1000.
func ChunkBytes(sampleRate, sampleBytes, channels, chunkMs int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if sampleBytes <= 0 {
		sampleBytes = bytesPerSample
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	if chunkMs <= 0 {
		chunkMs = DefaultChunkMs
	}
	n := sampleRate * sampleBytes * channels * chunkMs / 1000
	// keep whole frames so a chunk never splits a sample
	frame := sampleBytes * channels
	if n < frame {
		return frame
	}
	return n - n%frame
}

// ChunkBytesFor sizes a chunk window for the format.
func (f Format) ChunkBytesFor(chunkMs int) int {
	f = f.normalized()
	return ChunkBytes(f.SampleRate, bytesPerSample, f.Channels, chunkMs)
}

func (f Format) chunk(data []byte) domain.AudioChunk {
	return domain.AudioChunk{Data: data, Duration: f.Duration(len(data))}
}
