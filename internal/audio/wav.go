package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit mono PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// FloatToPCM16 converts normalized float32 samples to 16-bit PCM, clipping
// to [-1, 1].
func FloatToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}
	return pcm
}

// PCM16ToFloat converts 16-bit PCM samples to normalized float32.
func PCM16ToFloat(pcm []int16) []float32 {
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768
	}
	return samples
}

// EncodeWAV serializes normalized float32 samples as a mono 16-bit PCM WAV
// file, the format the transcription endpoint accepts.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to encode")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	pcm := FloatToPCM16(samples)
	dataSize := uint32(len(pcm) * 2)

	hdr := wavHeader{
		ChunkSize:     36 + dataSize,
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2Size: dataSize,
	}
	copy(hdr.ChunkID[:], "RIFF")
	copy(hdr.Format[:], "WAVE")
	copy(hdr.Subchunk1ID[:], "fmt ")
	copy(hdr.Subchunk2ID[:], "data")

	buf := bytes.NewBuffer(make([]byte, 0, 44+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a mono 16-bit PCM WAV file back into normalized float32
// samples and the sample rate. Used by the stub engine and tests.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 44 {
		return nil, 0, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}

	var hdr wavHeader
	if err := binary.Read(bytes.NewReader(data[:44]), binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV file")
	}
	if hdr.AudioFormat != 1 || hdr.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported WAV format: format=%d bits=%d", hdr.AudioFormat, hdr.BitsPerSample)
	}
	if hdr.NumChannels != 1 {
		return nil, 0, fmt.Errorf("expected mono audio, got %d channels", hdr.NumChannels)
	}

	payload := data[44:]
	if uint32(len(payload)) > hdr.Subchunk2Size {
		payload = payload[:hdr.Subchunk2Size]
	}
	pcm := make([]int16, len(payload)/2)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &pcm); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV data: %w", err)
	}
	return PCM16ToFloat(pcm), int(hdr.SampleRate), nil
}
