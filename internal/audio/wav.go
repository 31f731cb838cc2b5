package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	numChannels   = 1
	bitsPerSample = 16
	audioFormat   = 1 // PCM

	// unknownDataSize is the conventional marker for streaming WAV output
	// where the final length is not known when the header goes out.
	unknownDataSize = 0xFFFFFFFF
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeHeader(&buf, sampleRate, uint32(len(pcm))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(pcm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StreamWriter emits a WAV stream incrementally. The header is written on
// the first PCM write with unknown-length size fields, so the output is
// playable while synthesis is still in flight. When the underlying writer
// is seekable, Finalize patches the real sizes in.
type StreamWriter struct {
	out        io.Writer
	sampleRate int
	headerSent bool
	dataLen    uint32
}

// NewStreamWriter creates a StreamWriter producing PCM16LE mono WAV.
func NewStreamWriter(out io.Writer, sampleRate int) *StreamWriter {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &StreamWriter{out: out, sampleRate: sampleRate}
}

// Write appends raw PCM16LE samples to the stream.
func (w *StreamWriter) Write(pcm []byte) (int, error) {
	if !w.headerSent {
		if err := writeHeader(w.out, w.sampleRate, unknownDataSize); err != nil {
			return 0, err
		}
		w.headerSent = true
	}
	n, err := w.out.Write(pcm)
	w.dataLen += uint32(n)
	return n, err
}

// DataLen reports the PCM byte count written so far.
func (w *StreamWriter) DataLen() uint32 { return w.dataLen }

// Finalize rewrites the RIFF and data chunk sizes with the real lengths.
// Only possible when the underlying writer supports seeking (files); for
// plain writers it is a no-op apart from emitting a header for an empty
// stream.
func (w *StreamWriter) Finalize() error {
	ws, seekable := w.out.(io.WriteSeeker)
	if !w.headerSent {
		// Empty stream: emit a valid zero-length WAV.
		if err := writeHeader(w.out, w.sampleRate, 0); err != nil {
			return err
		}
		w.headerSent = true
		return nil
	}
	if !seekable {
		return nil
	}
	if _, err := ws.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("seek riff size: %w", err)
	}
	if err := binary.Write(ws, binary.LittleEndian, uint32(36)+w.dataLen); err != nil {
		return fmt.Errorf("patch riff size: %w", err)
	}
	if _, err := ws.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("seek data size: %w", err)
	}
	if err := binary.Write(ws, binary.LittleEndian, w.dataLen); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}
	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	return nil
}

func writeHeader(out io.Writer, sampleRate int, dataSize uint32) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	riffSize := uint32(unknownDataSize)
	if dataSize != unknownDataSize {
		riffSize = 36 + dataSize
	}

	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	_ = binary.Write(&hdr, binary.LittleEndian, riffSize)
	hdr.WriteString("WAVE")

	hdr.WriteString("fmt ")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(16))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(audioFormat))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(numChannels))
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&hdr, binary.LittleEndian, byteRate)
	_ = binary.Write(&hdr, binary.LittleEndian, blockAlign)
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(bitsPerSample))

	hdr.WriteString("data")
	_ = binary.Write(&hdr, binary.LittleEndian, dataSize)

	_, err := out.Write(hdr.Bytes())
	return err
}
