package transcode

// Baseline JPEG (process 1) codec over the standard library decoder and
// encoder. Baseline carries 8-bit grayscale or YBR/RGB color; deeper
// images must downgrade to a native destination before reaching here.

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/openpacs/go-dicomnet/transfersyntax"
)

type jpegBaselineCodec struct{}

func (c *jpegBaselineCodec) TransferSyntaxUID() string {
	return transfersyntax.JPEGBaseline8Bit
}

func (c *jpegBaselineCodec) Decode(frame []byte, d Descriptor) (*FrameBuffer, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("baseline JPEG decode: %w", err)
	}
	bounds := img.Bounds()
	buf := &FrameBuffer{
		Rows:          bounds.Dy(),
		Columns:       bounds.Dx(),
		BitsAllocated: 8,
	}
	switch src := img.(type) {
	case *image.Gray:
		buf.SamplesPerPixel = 1
		buf.Data = make([]byte, buf.Rows*buf.Columns)
		for y := 0; y < buf.Rows; y++ {
			copy(buf.Data[y*buf.Columns:(y+1)*buf.Columns],
				src.Pix[y*src.Stride:y*src.Stride+buf.Columns])
		}
	default:
		buf.SamplesPerPixel = 3
		buf.Data = make([]byte, buf.Rows*buf.Columns*3)
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				buf.Data[i] = byte(r >> 8)
				buf.Data[i+1] = byte(g >> 8)
				buf.Data[i+2] = byte(b >> 8)
				i += 3
			}
		}
	}
	return buf, nil
}

func (c *jpegBaselineCodec) Encode(buf *FrameBuffer, d Descriptor, quality int) ([]byte, error) {
	if buf.BitsAllocated != 8 {
		return nil, fmt.Errorf("baseline JPEG carries at most 8 bits per sample, got %d", buf.BitsAllocated)
	}
	var img image.Image
	switch buf.SamplesPerPixel {
	case 1:
		gray := image.NewGray(image.Rect(0, 0, buf.Columns, buf.Rows))
		copy(gray.Pix, buf.Data)
		img = gray
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, buf.Columns, buf.Rows))
		for p, i := 0, 0; i+2 < len(buf.Data); p, i = p+4, i+3 {
			rgba.Pix[p] = buf.Data[i]
			rgba.Pix[p+1] = buf.Data[i+1]
			rgba.Pix[p+2] = buf.Data[i+2]
			rgba.Pix[p+3] = 0xFF
		}
		img = rgba
	default:
		return nil, fmt.Errorf("baseline JPEG supports 1 or 3 samples per pixel, got %d", buf.SamplesPerPixel)
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// BufferImage exposes a FrameBuffer as an image for editor-supplied
// mutations (masking, overlay burn-in).
func BufferImage(buf *FrameBuffer) (image.Image, error) {
	rect := image.Rect(0, 0, buf.Columns, buf.Rows)
	switch {
	case buf.SamplesPerPixel == 1 && buf.BitsAllocated == 8:
		img := image.NewGray(rect)
		copy(img.Pix, buf.Data)
		return img, nil
	case buf.SamplesPerPixel == 1 && buf.BitsAllocated == 16:
		img := image.NewGray16(rect)
		// Gray16 is big-endian; buffer words are little-endian.
		for i := 0; i+1 < len(buf.Data) && i+1 < len(img.Pix); i += 2 {
			img.Pix[i] = buf.Data[i+1]
			img.Pix[i+1] = buf.Data[i]
		}
		return img, nil
	case buf.SamplesPerPixel == 3 && buf.BitsAllocated == 8:
		img := image.NewRGBA(rect)
		for p, i := 0, 0; i+2 < len(buf.Data); p, i = p+4, i+3 {
			img.Pix[p] = buf.Data[i]
			img.Pix[p+1] = buf.Data[i+1]
			img.Pix[p+2] = buf.Data[i+2]
			img.Pix[p+3] = 0xFF
		}
		return img, nil
	}
	return nil, fmt.Errorf("no image form for %d samples x %d bits", buf.SamplesPerPixel, buf.BitsAllocated)
}

// ImageBuffer converts an edited image back into a FrameBuffer with the
// same geometry conventions as BufferImage.
func ImageBuffer(img image.Image, ref *FrameBuffer) (*FrameBuffer, error) {
	bounds := img.Bounds()
	buf := &FrameBuffer{
		Rows:            bounds.Dy(),
		Columns:         bounds.Dx(),
		SamplesPerPixel: ref.SamplesPerPixel,
		BitsAllocated:   ref.BitsAllocated,
		Signed:          ref.Signed,
	}
	switch {
	case ref.SamplesPerPixel == 1 && ref.BitsAllocated == 8:
		buf.Data = make([]byte, buf.Rows*buf.Columns)
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				buf.Data[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
				i++
			}
		}
	case ref.SamplesPerPixel == 1 && ref.BitsAllocated == 16:
		buf.Data = make([]byte, buf.Rows*buf.Columns*2)
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
				buf.Data[i] = byte(v)
				buf.Data[i+1] = byte(v >> 8)
				i += 2
			}
		}
	case ref.SamplesPerPixel == 3 && ref.BitsAllocated == 8:
		buf.Data = make([]byte, buf.Rows*buf.Columns*3)
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				buf.Data[i] = byte(r >> 8)
				buf.Data[i+1] = byte(g >> 8)
				buf.Data[i+2] = byte(b >> 8)
				i += 3
			}
		}
	default:
		return nil, fmt.Errorf("no buffer form for %d samples x %d bits", ref.SamplesPerPixel, ref.BitsAllocated)
	}
	return buf, nil
}

func init() {
	RegisterCodec(&jpegBaselineCodec{})
}
