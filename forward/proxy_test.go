package forward

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

const testCUID = "1.2.840.10008.5.1.4.1.1.2"

type storedObject struct {
	ts, cuid, iuid string
	data           []byte
}

func startDestination(t *testing.T) (string, func() []storedObject) {
	t.Helper()
	var mu sync.Mutex
	var objects []storedObject
	sp := dicomnet.NewServiceProvider(dicomnet.ServiceProviderParams{
		AETitle: "DEST",
		CStore: func(ci dicomnet.ConnectionInfo, ts, cuid, iuid string, data []byte) dimse.Status {
			mu.Lock()
			objects = append(objects, storedObject{ts, cuid, iuid, append([]byte(nil), data...)})
			mu.Unlock()
			return dimse.Success
		},
	})
	require.NoError(t, sp.Listen("127.0.0.1:0"))
	go sp.Run("")
	t.Cleanup(func() { sp.Close() })
	return sp.Addr().String(), func() []storedObject {
		mu.Lock()
		defer mu.Unlock()
		return append([]storedObject(nil), objects...)
	}
}

func destNode(t *testing.T, addr string) dicomnet.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	node, err := dicomnet.NewNode("DEST", host, port)
	require.NoError(t, err)
	return node
}

func encodeElements(t *testing.T, pairs map[dicomtag.Tag][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	require.NoError(t, err)
	w.SetTransferSyntax(binary.LittleEndian, false)
	// Stable tag order.
	tags := []dicomtag.Tag{dicomtag.SOPClassUID, dicomtag.SOPInstanceUID, dicomtag.PatientID}
	for _, tg := range tags {
		values, ok := pairs[tg]
		if !ok {
			continue
		}
		elem, err := dicom.NewElement(tg, values)
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	return buf.Bytes()
}

func sourceNode(t *testing.T) dicomnet.Node {
	t.Helper()
	node, err := dicomnet.NewNode("SOURCE", "localhost", 11112)
	require.NoError(t, err)
	return node
}

func TestProxySpliceIdentity(t *testing.T) {
	addr, stored := startDestination(t)
	proxy := NewProxy("FWD", sourceNode(t), destNode(t, addr), nil, nil)
	defer proxy.Close()

	data := encodeElements(t, map[dicomtag.Tag][]string{
		dicomtag.SOPClassUID:    {testCUID},
		dicomtag.SOPInstanceUID: {"1.2.3.4"},
		dicomtag.PatientID:      {"P1"},
	})
	status := proxy.CStore(dicomnet.ConnectionInfo{CallingAETitle: "SRC"},
		transfersyntax.ExplicitVRLittleEndian, testCUID, "1.2.3.4", data)
	require.Equal(t, dimse.StatusSuccess, status.Status)

	objects := stored()
	require.Len(t, objects, 1)
	// No editors and a matching syntax: the forwarded bytes are identical.
	assert.Equal(t, data, objects[0].data)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, objects[0].ts)
	assert.Equal(t, "1.2.3.4", objects[0].iuid)
	assert.Equal(t, 1, proxy.State().Progress().Completed())
}

// patientRenamer rewrites the PatientID attribute.
type patientRenamer struct {
	newID string
}

func (e *patientRenamer) Apply(ds *dicom.Dataset, ctx *EditorContext) bool {
	for i, elem := range ds.Elements {
		if elem.Tag == dicomtag.PatientID {
			replacement, err := dicom.NewElement(dicomtag.PatientID, []string{e.newID})
			if err != nil {
				return false
			}
			ds.Elements[i] = replacement
			return true
		}
	}
	return false
}

func TestProxyAppliesAttributeEditors(t *testing.T) {
	addr, stored := startDestination(t)
	proxy := NewProxy("FWD", sourceNode(t), destNode(t, addr),
		[]AttributeEditor{&patientRenamer{newID: "ANON"}}, nil)
	defer proxy.Close()

	data := encodeElements(t, map[dicomtag.Tag][]string{
		dicomtag.SOPClassUID:    {testCUID},
		dicomtag.SOPInstanceUID: {"1.2.3.5"},
		dicomtag.PatientID:      {"P2"},
	})
	status := proxy.CStore(dicomnet.ConnectionInfo{CallingAETitle: "SRC"},
		transfersyntax.ExplicitVRLittleEndian, testCUID, "1.2.3.5", data)
	require.Equal(t, dimse.StatusSuccess, status.Status)

	objects := stored()
	require.Len(t, objects, 1)
	// The edited dataset differs from the source and carries the new ID.
	assert.NotEqual(t, data, objects[0].data)
	blob, err := part10.WrapDataset(objects[0].data, testCUID, "1.2.3.5", objects[0].ts)
	require.NoError(t, err)
	ds, err := dicom.Parse(bytes.NewReader(blob), int64(len(blob)), nil)
	require.NoError(t, err)
	elem, err := ds.FindElementByTag(dicomtag.PatientID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ANON"}, elem.Value.GetValue().([]string))
}

func startNativeOnlyDestination(t *testing.T) (string, func() []storedObject) {
	t.Helper()
	var mu sync.Mutex
	var objects []storedObject
	sp := dicomnet.NewServiceProvider(dicomnet.ServiceProviderParams{
		AETitle: "DEST",
		TransferCapabilities: map[string][]string{
			testCUID: {transfersyntax.ExplicitVRLittleEndian},
		},
		CStore: func(ci dicomnet.ConnectionInfo, ts, cuid, iuid string, data []byte) dimse.Status {
			mu.Lock()
			objects = append(objects, storedObject{ts, cuid, iuid, append([]byte(nil), data...)})
			mu.Unlock()
			return dimse.Success
		},
	})
	require.NoError(t, sp.Listen("127.0.0.1:0"))
	go sp.Run("")
	t.Cleanup(func() { sp.Close() })
	return sp.Addr().String(), func() []storedObject {
		mu.Lock()
		defer mu.Unlock()
		return append([]storedObject(nil), objects...)
	}
}

// encodeJPEGObject builds a single-frame 8-bit grayscale object encoded
// with the baseline-JPEG transfer syntax: image attributes followed by an
// encapsulated PixelData element.
func encodeJPEGObject(t *testing.T, iuid string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	require.NoError(t, err)
	w.SetTransferSyntax(binary.LittleEndian, false)
	writeString := func(tg dicomtag.Tag, v string) {
		elem, err := dicom.NewElement(tg, []string{v})
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	writeInt := func(tg dicomtag.Tag, v int) {
		elem, err := dicom.NewElement(tg, []int{v})
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	writeString(dicomtag.SOPClassUID, testCUID)
	writeString(dicomtag.SOPInstanceUID, iuid)
	writeInt(dicomtag.SamplesPerPixel, 1)
	writeString(dicomtag.PhotometricInterpretation, "MONOCHROME2")
	writeInt(dicomtag.Rows, 8)
	writeInt(dicomtag.Columns, 8)
	writeInt(dicomtag.BitsAllocated, 8)
	writeInt(dicomtag.BitsStored, 8)
	writeInt(dicomtag.HighBit, 7)
	writeInt(dicomtag.PixelRepresentation, 0)

	pixels := make([]byte, 64)
	for i := range pixels {
		pixels[i] = byte(i * 4)
	}
	frame := encodeBaselineJPEG(t, pixels)

	// PixelData (7FE0,0010) OB, undefined length, encapsulated items.
	var pd bytes.Buffer
	writeBytes := func(b []byte) { pd.Write(b) }
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint16(hdr[0:2], 0x7FE0)
	binary.LittleEndian.PutUint16(hdr[2:4], 0x0010)
	copy(hdr[4:6], "OB")
	binary.LittleEndian.PutUint32(hdr[8:12], 0xFFFFFFFF)
	writeBytes(hdr)
	item := func(element uint16, data []byte) {
		var ih [8]byte
		binary.LittleEndian.PutUint16(ih[0:2], 0xFFFE)
		binary.LittleEndian.PutUint16(ih[2:4], element)
		binary.LittleEndian.PutUint32(ih[4:8], uint32(len(data)))
		writeBytes(ih[:])
		writeBytes(data)
	}
	item(0xE000, nil) // empty offset table
	if len(frame)%2 == 1 {
		frame = append(frame, 0)
	}
	item(0xE000, frame)
	item(0xE0DD, nil)

	return append(buf.Bytes(), pd.Bytes()...)
}

func encodeBaselineJPEG(t *testing.T, gray []byte) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	copy(img.Pix, gray)
	var out bytes.Buffer
	require.NoError(t, jpeg.Encode(&out, img, &jpeg.Options{Quality: 95}))
	return out.Bytes()
}

func TestProxyTranscodesSyntaxMismatch(t *testing.T) {
	addr, stored := startNativeOnlyDestination(t)
	proxy := NewProxy("FWD", sourceNode(t), destNode(t, addr), nil, nil)
	defer proxy.Close()

	data := encodeJPEGObject(t, "1.2.3.7")
	status := proxy.CStore(dicomnet.ConnectionInfo{CallingAETitle: "SRC"},
		transfersyntax.JPEGBaseline8Bit, testCUID, "1.2.3.7", data)
	require.Equal(t, dimse.StatusSuccess, status.Status)

	objects := stored()
	require.Len(t, objects, 1)
	// The destination only accepts explicit LE: the proxy decoded the JPEG
	// frame and re-encoded it natively.
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, objects[0].ts)
	assert.Greater(t, len(objects[0].data), 64)
	assert.Equal(t, 1, proxy.State().Progress().Completed())
}

// skipEditor aborts every object.
type skipEditor struct{}

func (skipEditor) Apply(ds *dicom.Dataset, ctx *EditorContext) bool {
	ctx.Abort = AbortFile
	ctx.AbortMessage = "dropped for testing"
	return false
}

func TestProxyEditorSkipsObject(t *testing.T) {
	addr, stored := startDestination(t)
	st := progress.NewState()
	proxy := NewProxy("FWD", sourceNode(t), destNode(t, addr),
		[]AttributeEditor{skipEditor{}}, st)
	defer proxy.Close()

	data := encodeElements(t, map[dicomtag.Tag][]string{
		dicomtag.SOPClassUID:    {testCUID},
		dicomtag.SOPInstanceUID: {"1.2.3.6"},
	})
	status := proxy.CStore(dicomnet.ConnectionInfo{CallingAETitle: "SRC"},
		transfersyntax.ExplicitVRLittleEndian, testCUID, "1.2.3.6", data)
	assert.Equal(t, dimse.StatusProcessingFailure, status.Status)
	assert.Empty(t, stored())
	assert.Equal(t, 1, st.Progress().Failed())
}
