package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/zaf/g711"
)

const (
	// wavFormatMulaw is the RIFF audio format tag for µ-law samples.
	wavFormatMulaw = 7
	wavFormatPCM   = 1
)

// Kind classifies codec failures.
type Kind string

const (
	KindContainer         Kind = "container"
	KindUnsupportedFormat Kind = "unsupported-format"
)

// Error is returned for container framing and format failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("codec %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnsupportedFormat reports whether err is a hard format rejection.
func IsUnsupportedFormat(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindUnsupportedFormat
}

// Adapter converts between raw companded telephony audio and WAV containers
// consumable by speech services. Sample values are never re-encoded when
// framing companded audio; only DecodeToCompanded performs companding.
type Adapter struct {
	sampleRate int
	log        *slog.Logger
}

func NewAdapter(sampleRate int, log *slog.Logger) *Adapter {
	return &Adapter{
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "codec")),
	}
}

// EncodeTelephonyContainer wraps raw µ-law bytes in a mono 8-bit container
// at the adapter's sample rate. Pass-through framing only.
func (a *Adapter) EncodeTelephonyContainer(mulaw []byte) ([]byte, error) {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: a.sampleRate},
		SourceBitDepth: 8,
		Data:           make([]int, len(mulaw)),
	}
	for i, b := range mulaw {
		buf.Data[i] = int(b)
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, a.sampleRate, 8, 1, wavFormatMulaw)
	if err := enc.Write(buf); err != nil {
		return nil, &Error{Kind: KindContainer, Msg: "write telephony container", Err: err}
	}
	if err := enc.Close(); err != nil {
		return nil, &Error{Kind: KindContainer, Msg: "close telephony container", Err: err}
	}
	return out.Bytes(), nil
}

// DecodeToCompanded reads a linear 16-bit mono PCM container and produces
// companded µ-law bytes for the telephony transport. Any sample width other
// than 16 bits or channel count other than 1 is rejected outright; a sample
// rate mismatch is only logged, rate correctness belongs to the synthesis
// provider.
func (a *Adapter) DecodeToCompanded(container []byte) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(container))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, &Error{Kind: KindContainer, Msg: "invalid wav container", Err: dec.Err()}
	}
	if dec.BitDepth != 16 || dec.NumChans != 1 {
		return nil, &Error{
			Kind: KindUnsupportedFormat,
			Msg:  fmt.Sprintf("expected 16-bit mono pcm, got %d-bit %d-channel", dec.BitDepth, dec.NumChans),
		}
	}
	if int(dec.SampleRate) != a.sampleRate {
		a.log.Warn("container sample rate differs from transport rate",
			slog.Int("container_rate", int(dec.SampleRate)),
			slog.Int("transport_rate", a.sampleRate))
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &Error{Kind: KindContainer, Msg: "read pcm frames", Err: err}
	}

	lpcm := make([]byte, len(pcm.Data)*2)
	for i, s := range pcm.Data {
		binary.LittleEndian.PutUint16(lpcm[i*2:], uint16(int16(s)))
	}
	return g711.EncodeUlaw(lpcm), nil
}

// MergeContainers concatenates the raw sample frames of the given containers
// into one container under the first segment's format parameters. Segment
// formats are assumed uniform and are not re-validated individually.
func (a *Adapter) MergeContainers(segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, &Error{Kind: KindContainer, Msg: "no segments to merge"}
	}
	if len(segments) == 1 {
		return segments[0], nil
	}

	var (
		merged     []int
		sampleRate int
		bitDepth   int
		channels   int
	)
	for i, seg := range segments {
		dec := wav.NewDecoder(bytes.NewReader(seg))
		dec.ReadInfo()
		if !dec.IsValidFile() {
			return nil, &Error{Kind: KindContainer, Msg: fmt.Sprintf("invalid segment %d", i), Err: dec.Err()}
		}
		if i == 0 {
			sampleRate = int(dec.SampleRate)
			bitDepth = int(dec.BitDepth)
			channels = int(dec.NumChans)
		}
		pcm, err := dec.FullPCMBuffer()
		if err != nil {
			return nil, &Error{Kind: KindContainer, Msg: fmt.Sprintf("read segment %d", i), Err: err}
		}
		merged = append(merged, pcm.Data...)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
		Data:           merged,
	}
	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, bitDepth, channels, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return nil, &Error{Kind: KindContainer, Msg: "write merged container", Err: err}
	}
	if err := enc.Close(); err != nil {
		return nil, &Error{Kind: KindContainer, Msg: "close merged container", Err: err}
	}
	return out.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which seeks
// back to patch RIFF chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		if need > cap(b.data) {
			grown := make([]byte, need, need*2)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:need]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte { return b.data }
