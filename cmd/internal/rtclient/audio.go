package rtclient

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	v1 "rtbridge/contracts/realtime/v1"
)

// DefaultChunkBytes is how much PCM16 audio is buffered per append frame
// (100ms of 24kHz mono).
const DefaultChunkBytes = 4800

// AudioChunker buffers raw little-endian PCM16 bytes and cuts them into
// fixed-size base64 append payloads.
type AudioChunker struct {
	size int
	buf  []byte
}

// NewAudioChunker returns a chunker; size <= 0 selects DefaultChunkBytes.
// Odd sizes are rounded down so no sample is split across frames.
func NewAudioChunker(size int) *AudioChunker {
	if size <= 0 {
		size = DefaultChunkBytes
	}
	if size%2 == 1 {
		size--
	}
	if size == 0 {
		size = 2
	}
	return &AudioChunker{size: size}
}

// Write buffers p and returns every full chunk now available.
func (c *AudioChunker) Write(p []byte) []v1.InputAudioBufferAppend {
	c.buf = append(c.buf, p...)

	var out []v1.InputAudioBufferAppend
	for len(c.buf) >= c.size {
		out = append(out, v1.InputAudioBufferAppend{Audio: base64.StdEncoding.EncodeToString(c.buf[:c.size])})
		c.buf = c.buf[c.size:]
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return out
}

// Flush returns whatever is left as a final, shorter chunk.
func (c *AudioChunker) Flush() (v1.InputAudioBufferAppend, bool) {
	if len(c.buf) == 0 {
		return v1.InputAudioBufferAppend{}, false
	}
	chunk := v1.InputAudioBufferAppend{Audio: base64.StdEncoding.EncodeToString(c.buf)}
	c.buf = nil
	return chunk, true
}

// Pending reports buffered bytes not yet emitted.
func (c *AudioChunker) Pending() int { return len(c.buf) }

// EncodePCM16 packs samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodeAudioDelta turns a base64 audio delta back into samples.
func DecodeAudioDelta(delta string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, errors.New("decode audio: odd byte count")
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out, nil
}

// StreamAudio reads raw PCM16 from r until EOF, sends it as append frames and
// finishes with a commit. It returns the number of append frames sent.
func (c *Client) StreamAudio(ctx context.Context, r io.Reader, chunkBytes int) (int, error) {
	ch := NewAudioChunker(chunkBytes)
	buf := make([]byte, 32<<10)

	sent := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, chunk := range ch.Write(buf[:n]) {
				if err := c.Send(ctx, chunk, ""); err != nil {
					return sent, err
				}
				sent++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("read audio: %w", err)
		}
	}

	if chunk, ok := ch.Flush(); ok {
		if err := c.Send(ctx, chunk, ""); err != nil {
			return sent, err
		}
		sent++
	}
	if sent == 0 {
		return 0, nil
	}
	return sent, c.CommitAudio(ctx)
}
