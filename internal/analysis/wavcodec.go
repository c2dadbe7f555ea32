package analysis

import (
	"encoding/binary"
	"errors"
	"fmt"

	"recite/internal/faults"
)

// CanonicalMimeType identifies the upload-preferred container.
const CanonicalMimeType = "audio/wav"

const wavHeaderSize = 44

// EncodeWAV writes mono float samples as canonical 16-bit PCM WAV: the
// standard 44-byte RIFF/WAVE/fmt/data header followed by little-endian
// samples. Each sample is clamped to [-1, 1] and scaled asymmetrically
// (negative values by 0x8000, non-negative by 0x7fff) so both rails map onto
// the full signed 16-bit range.
func EncodeWAV(samples []float64, sampleRate int) []byte {
	dataSize := len(samples) * 2
	out := make([]byte, wavHeaderSize+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)                    // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)                     // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1)                     // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))    // sample rate
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))  // byte rate
	binary.LittleEndian.PutUint16(out[32:34], 2)                     // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                    // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	offset := wavHeaderSize
	for _, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		var value int16
		if sample < 0 {
			value = int16(sample * 0x8000)
		} else {
			value = int16(sample * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[offset:offset+2], uint16(value))
		offset += 2
	}
	return out
}

// WAVHeader is the parsed canonical header, used to sanity-check encodes.
type WAVHeader struct {
	Channels   int
	SampleRate int
	BitDepth   int
	DataSize   int
}

// ParseWAVHeader reads the fixed 44-byte canonical header.
func ParseWAVHeader(payload []byte) (WAVHeader, error) {
	if len(payload) < wavHeaderSize {
		return WAVHeader{}, errors.New("payload shorter than wav header")
	}
	if string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return WAVHeader{}, errors.New("payload is not a RIFF/WAVE container")
	}
	if string(payload[12:16]) != "fmt " || string(payload[36:40]) != "data" {
		return WAVHeader{}, fmt.Errorf("unexpected chunk layout")
	}
	return WAVHeader{
		Channels:   int(binary.LittleEndian.Uint16(payload[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(payload[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(payload[34:36])),
		DataSize:   int(binary.LittleEndian.Uint32(payload[40:44])),
	}, nil
}

// Transcode re-encodes any decodable payload into the canonical mono WAV
// form. Callers treat failure as non-fatal and upload the original payload
// unmodified.
func Transcode(payload []byte) ([]byte, string, error) {
	channels, rate, err := decodePCM(payload)
	if err != nil {
		return nil, "", faults.Wrap(faults.ErrTranscodeFailed, "analysis", "transcode", "decode payload", err)
	}
	_, mono, err := process(channels, rate)
	if err != nil {
		return nil, "", faults.Wrap(faults.ErrTranscodeFailed, "analysis", "transcode", "process payload", err)
	}
	return EncodeWAV(mono, rate), CanonicalMimeType, nil
}
