// Package forward bridges a retrieving peer to a destination peer: objects
// received by the storage SCP on the source association are re-issued as
// C-STORE requests on a destination association, optionally passing through
// an attribute-editing and transcoding stage.
package forward

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/transcode"
	"github.com/suyashkumar/dicom"
)

// AbortKind tells the proxy how to proceed after an editor ran.
type AbortKind int

const (
	// AbortNone continues normally.
	AbortNone AbortKind = iota
	// AbortFile skips the current object, counting it as failed.
	AbortFile
	// AbortConnection tears down the destination association.
	AbortConnection
)

// EditorContext is handed to every attribute editor for one object.
type EditorContext struct {
	SourceNode      dicomnet.Node
	DestinationNode dicomnet.Node

	// TransferSyntaxUID is the encoding the object arrived in.
	TransferSyntaxUID string

	// Abort, when set by an editor, stops processing of the object or the
	// whole destination association.
	Abort        AbortKind
	AbortMessage string

	// ImageEditors collects per-frame pixel mutations (masking, overlay
	// burn-in) to run inside the transcode pipeline.
	ImageEditors []transcode.ImageEditor
}

// AttributeEditor mutates the dataset of one object in flight. Editors run
// in registration order; returning true marks the dataset as modified.
type AttributeEditor interface {
	Apply(ds *dicom.Dataset, ctx *EditorContext) bool
}

// MaskEditor blanks a rectangular region of every frame. It is an
// image-level editor: it registers a pixel mutation and leaves the dataset
// untouched.
type MaskEditor struct {
	Region image.Rectangle
}

// Apply registers the masking mutation.
func (e *MaskEditor) Apply(ds *dicom.Dataset, ctx *EditorContext) bool {
	region := e.Region
	ctx.ImageEditors = append(ctx.ImageEditors,
		func(img image.Image, d transcode.Descriptor) (image.Image, bool, error) {
			bounds := img.Bounds()
			clipped := region.Intersect(bounds)
			if clipped.Empty() {
				return img, false, nil
			}
			// Paste a black patch over the region.
			patch := imaging.New(clipped.Dx(), clipped.Dy(), image.Black.C)
			out := imaging.Paste(imaging.Clone(img), patch, clipped.Min)
			return out, true, nil
		})
	return false
}
