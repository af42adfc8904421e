package transcode

import (
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/sirupsen/logrus"
)

// AdaptTransferSyntax tracks the syntax negotiation of one object through
// the pipeline. Suitable starts equal to Requested and is downgraded when
// the request is unachievable for this image; the invariant maintained by
// callers is that Suitable is always a syntax the peer accepted for the SOP
// class.
type AdaptTransferSyntax struct {
	Original  string
	Requested string
	Suitable  string

	// JPEGQuality is the baseline-JPEG quality (1..100); zero means the
	// encoder default.
	JPEGQuality int

	// CompressionRatio is recorded into LossyImageCompressionRatio when a
	// lossy destination is produced.
	CompressionRatio float64
}

// NewAdaptTransferSyntax starts an adaptation with Suitable == Requested.
func NewAdaptTransferSyntax(original, requested string) *AdaptTransferSyntax {
	return &AdaptTransferSyntax{
		Original:  original,
		Requested: requested,
		Suitable:  requested,
	}
}

// downgrade replaces Suitable and logs the reason. The pipeline calls this
// when the requested encoding cannot represent the image (e.g. 16-bit
// samples through 8-bit baseline JPEG).
func (a *AdaptTransferSyntax) downgrade(to, reason string) {
	if a.Suitable == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"component": "transcode",
		"requested": a.Suitable,
		"fallback":  to,
	}).Warnf("Destination transfer syntax unachievable: %s", reason)
	a.Suitable = to
}

// suitableFor verifies that the requested destination can encode the image
// and downgrades Suitable if not. Returns the final destination syntax.
func (a *AdaptTransferSyntax) suitableFor(d Descriptor) string {
	info, ok := transfersyntax.Lookup(a.Suitable)
	if !ok {
		a.downgrade(transfersyntax.ExplicitVRLittleEndian, "unknown transfer syntax")
		return a.Suitable
	}
	switch info.Encoding {
	case transfersyntax.PixelJPEG:
		if a.Suitable == transfersyntax.JPEGBaseline8Bit && d.BitsAllocated > 8 {
			a.downgrade(transfersyntax.ExplicitVRLittleEndian,
				"baseline JPEG carries at most 8 bits per sample")
		}
	case transfersyntax.PixelMPEG:
		a.downgrade(transfersyntax.ExplicitVRLittleEndian, "MPEG encoding is not supported")
	}
	return a.Suitable
}
