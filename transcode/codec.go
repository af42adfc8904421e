package transcode

// Codec facade. Decoders and encoders are registered per transfer syntax;
// the pipeline looks them up by the source and destination UIDs.

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openpacs/go-dicomnet/transfersyntax"
)

// ErrCodecUnavailable reports that no codec is registered for a transfer
// syntax. The caller may still send the object untranscoded if the peer
// accepted the source syntax.
var ErrCodecUnavailable = errors.New("no codec for transfer syntax")

// FrameBuffer is one decoded frame: native interleaved samples, little
// endian for 16-bit data.
type FrameBuffer struct {
	Rows            int
	Columns         int
	SamplesPerPixel int
	BitsAllocated   int // 8 or 16
	Signed          bool
	Data            []byte
}

// PixelCodec turns compressed frame bytes into a FrameBuffer and back.
type PixelCodec interface {
	// TransferSyntaxUID names the syntax this codec serves.
	TransferSyntaxUID() string

	// Decode decompresses one frame.
	Decode(frame []byte, d Descriptor) (*FrameBuffer, error)

	// Encode compresses one frame. quality is the lossy quality (1..100,
	// zero for default) and is ignored by lossless codecs.
	Encode(buf *FrameBuffer, d Descriptor, quality int) ([]byte, error)
}

var (
	codecMu  sync.RWMutex
	codecs   = make(map[string]PixelCodec)
)

// RegisterCodec installs a codec for its transfer syntax, replacing any
// previous registration.
func RegisterCodec(c PixelCodec) {
	codecMu.Lock()
	codecs[c.TransferSyntaxUID()] = c
	codecMu.Unlock()
}

// CodecFor returns the codec registered for the syntax.
func CodecFor(transferSyntaxUID string) (PixelCodec, error) {
	codecMu.RLock()
	c, ok := codecs[transferSyntaxUID]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecUnavailable, transferSyntaxUID)
	}
	return c, nil
}

// nativeCodec passes native bytes through, swapping 16-bit words for big
// endian. It is registered for implicit and explicit VR little endian and
// explicit VR big endian; deflated explicit VR little endian has no codec.
type nativeCodec struct {
	uid string
}

func (c *nativeCodec) TransferSyntaxUID() string { return c.uid }

func (c *nativeCodec) Decode(frame []byte, d Descriptor) (*FrameBuffer, error) {
	data := frame
	if transfersyntax.ByteOrder(c.uid) != transfersyntax.ByteOrder(transfersyntax.ExplicitVRLittleEndian) &&
		d.BitsAllocated == 16 {
		data = swapWords(frame)
	}
	return &FrameBuffer{
		Rows:            d.Rows,
		Columns:         d.Columns,
		SamplesPerPixel: d.SamplesPerPixel,
		BitsAllocated:   d.BitsAllocated,
		Signed:          d.Signed,
		Data:            data,
	}, nil
}

func (c *nativeCodec) Encode(buf *FrameBuffer, d Descriptor, quality int) ([]byte, error) {
	if transfersyntax.ByteOrder(c.uid) != transfersyntax.ByteOrder(transfersyntax.ExplicitVRLittleEndian) &&
		buf.BitsAllocated == 16 {
		return swapWords(buf.Data), nil
	}
	return buf.Data, nil
}

func swapWords(in []byte) []byte {
	out := make([]byte, len(in))
	for i := 0; i+1 < len(in); i += 2 {
		out[i], out[i+1] = in[i+1], in[i]
	}
	if len(in)%2 == 1 {
		out[len(in)-1] = in[len(in)-1]
	}
	return out
}

func init() {
	for _, uid := range []string{
		transfersyntax.ImplicitVRLittleEndian,
		transfersyntax.ExplicitVRLittleEndian,
		transfersyntax.ExplicitVRBigEndian,
	} {
		RegisterCodec(&nativeCodec{uid: uid})
	}
}
