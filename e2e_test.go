package dicomnet

// Loopback end-to-end tests: a ServiceProvider on 127.0.0.1 and a
// ServiceUser talking to it over real TCP.

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

const (
	testCTStorage = "1.2.840.10008.5.1.4.1.1.2"
)

func startProvider(t *testing.T, params ServiceProviderParams) string {
	t.Helper()
	if params.AETitle == "" {
		params.AETitle = "TEST-SCP"
	}
	sp := NewServiceProvider(params)
	require.NoError(t, sp.Listen("127.0.0.1:0"))
	go sp.Run("")
	t.Cleanup(func() { sp.Close() })
	return sp.Addr().String()
}

func mustElement(t *testing.T, tg dicomtag.Tag, value interface{}) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	require.NoError(t, err)
	return elem
}

func TestE2EEcho(t *testing.T) {
	addr := startProvider(t, ServiceProviderParams{
		CEcho: func(ci ConnectionInfo) dimse.Status {
			assert.Equal(t, "A", ci.CallingAETitle)
			return dimse.Success
		},
	})
	params, err := NewServiceUserParams("B", "A", sopclass.VerificationClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	defer su.Release()
	su.Connect(addr)
	require.NoError(t, su.CEcho())
}

func TestE2EAssociationRejectedCaller(t *testing.T) {
	addr := startProvider(t, ServiceProviderParams{
		Authorize: func(callingAETitle string, conn net.Conn) error {
			if callingAETitle != "FRIEND" {
				return fmt.Errorf("unknown caller %q", callingAETitle)
			}
			return nil
		},
		CEcho: func(ci ConnectionInfo) dimse.Status { return dimse.Success },
	})
	params, err := NewServiceUserParams("B", "EVIL", sopclass.VerificationClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	su.Connect(addr)
	err = su.CEcho()
	require.Error(t, err)

	params, err = NewServiceUserParams("B", "FRIEND", sopclass.VerificationClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su = NewServiceUser(params)
	defer su.Release()
	su.Connect(addr)
	require.NoError(t, su.CEcho())
}

func TestE2EStoreSuccessAndWarning(t *testing.T) {
	type stored struct {
		ts, cuid, iuid string
		data           []byte
	}
	var mu sync.Mutex
	var objects []stored
	warnNext := false
	addr := startProvider(t, ServiceProviderParams{
		CStore: func(ci ConnectionInfo, ts, cuid, iuid string, data []byte) dimse.Status {
			mu.Lock()
			objects = append(objects, stored{ts, cuid, iuid, data})
			warn := warnNext
			mu.Unlock()
			if warn {
				return dimse.Status{Status: dimse.CStoreCoercionOfDataElements}
			}
			return dimse.Success
		},
	})
	su := NewServiceUser(ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{{
			AbstractSyntaxUID:  testCTStorage,
			TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian},
		}},
		MaxPDUSize: DefaultMaxPDUSize,
	})
	defer su.Release()
	su.Connect(addr)

	payload := bytes.Repeat([]byte{0xD1, 0xC0}, 4096)
	status, err := su.CStore(testCTStorage, "1.2.3.4", payload, CStoreOptions{
		TransferSyntaxUID: transfersyntax.ExplicitVRLittleEndian,
	})
	require.NoError(t, err)
	assert.Equal(t, dimse.StatusSuccess, status.Status)

	mu.Lock()
	warnNext = true
	mu.Unlock()
	status, err = su.CStore(testCTStorage, "1.2.3.5", payload, CStoreOptions{})
	require.NoError(t, err)
	assert.True(t, status.Status.IsWarning())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, objects, 2)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, objects[0].ts)
	assert.Equal(t, testCTStorage, objects[0].cuid)
	assert.Equal(t, "1.2.3.4", objects[0].iuid)
	assert.Equal(t, payload, objects[0].data)
	assert.Equal(t, "1.2.3.5", objects[1].iuid)
}

func TestE2EFindCancelAfter(t *testing.T) {
	const totalMatches = 10
	addr := startProvider(t, ServiceProviderParams{
		CFind: func(ci ConnectionInfo, ts, cuid string, filters []*dicom.Element) chan CFindResult {
			ch := make(chan CFindResult, totalMatches)
			go func() {
				defer close(ch)
				for i := 0; i < totalMatches; i++ {
					ch <- CFindResult{Elements: []*dicom.Element{
						mustElement(t, dicomtag.PatientID, []string{fmt.Sprintf("PAT%02d", i)}),
					}}
					// Leave the cancel a window to land mid-stream.
					time.Sleep(10 * time.Millisecond)
				}
			}()
			return ch
		},
	})
	params, err := NewServiceUserParams("B", "A", sopclass.QRFindClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	defer su.Release()
	su.Connect(addr)

	keys := []*dicom.Element{mustElement(t, dicomtag.QueryRetrieveLevel, []string{"STUDY"})}
	var matches int
	var errs []error
	for result := range su.CFind(sopclass.StudyRoot, keys, CFindOptions{CancelAfter: 3}) {
		if result.Err != nil {
			errs = append(errs, result.Err)
			continue
		}
		matches++
	}
	assert.Equal(t, 3, matches)
	assert.Empty(t, errs)
}

func TestE2EFindStreamsAllMatches(t *testing.T) {
	addr := startProvider(t, ServiceProviderParams{
		CFind: func(ci ConnectionInfo, ts, cuid string, filters []*dicom.Element) chan CFindResult {
			ch := make(chan CFindResult, 4)
			go func() {
				defer close(ch)
				for i := 0; i < 4; i++ {
					ch <- CFindResult{Elements: []*dicom.Element{
						mustElement(t, dicomtag.PatientID, []string{fmt.Sprintf("PAT%d", i)}),
					}}
				}
			}()
			return ch
		},
	})
	params, err := NewServiceUserParams("B", "A", sopclass.QRFindClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	defer su.Release()
	su.Connect(addr)

	var ids []string
	for result := range su.CFind(sopclass.StudyRoot, nil, CFindOptions{}) {
		require.NoError(t, result.Err)
		require.Len(t, result.Elements, 1)
		values := result.Elements[0].Value.GetValue().([]string)
		ids = append(ids, values[0])
	}
	assert.Equal(t, []string{"PAT0", "PAT1", "PAT2", "PAT3"}, ids)
}

func TestE2EMoveSubOperations(t *testing.T) {
	const objectCount = 5
	// Destination SCP receiving the sub-operation stores.
	var destMu sync.Mutex
	var received []string
	destAddr := startProvider(t, ServiceProviderParams{
		AETitle: "DEST",
		CStore: func(ci ConnectionInfo, ts, cuid, iuid string, data []byte) dimse.Status {
			destMu.Lock()
			received = append(received, iuid)
			destMu.Unlock()
			return dimse.Success
		},
	})
	// Query/retrieve SCP performing the move.
	qrAddr := startProvider(t, ServiceProviderParams{
		AETitle:   "QR",
		RemoteAEs: map[string]string{"DEST": destAddr},
		CMove: func(ci ConnectionInfo, ts, cuid string, filters []*dicom.Element) chan CMoveResult {
			ch := make(chan CMoveResult, objectCount)
			go func() {
				defer close(ch)
				for i := 0; i < objectCount; i++ {
					ch <- CMoveResult{
						Remaining:         objectCount - i - 1,
						Path:              fmt.Sprintf("obj%d", i),
						SOPClassUID:       testCTStorage,
						SOPInstanceUID:    fmt.Sprintf("1.2.3.%d", i),
						TransferSyntaxUID: transfersyntax.ExplicitVRLittleEndian,
						Data:              []byte{0x10, 0x20, 0x30, 0x40},
					}
				}
			}()
			return ch
		},
	})
	params, err := NewServiceUserParams("QR", "A", sopclass.QRMoveClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	defer su.Release()
	su.Connect(qrAddr)

	st := progress.NewState()
	notified := 0
	st.Progress().AddListener(func(p *progress.Progress) { notified++ })
	err = su.CMove(sopclass.StudyRoot, "DEST", nil, st, CMoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Progress().Remaining())
	assert.Equal(t, objectCount, st.Progress().Completed())
	assert.Equal(t, 0, st.Progress().Failed())
	assert.Equal(t, int(dimse.StatusSuccess), st.Status())
	assert.GreaterOrEqual(t, notified, objectCount)

	destMu.Lock()
	defer destMu.Unlock()
	assert.Len(t, received, objectCount)
}

func TestE2EMoveUnknownDestination(t *testing.T) {
	addr := startProvider(t, ServiceProviderParams{
		RemoteAEs: map[string]string{},
		CMove: func(ci ConnectionInfo, ts, cuid string, filters []*dicom.Element) chan CMoveResult {
			ch := make(chan CMoveResult)
			close(ch)
			return ch
		},
	})
	params, err := NewServiceUserParams("B", "A", sopclass.QRMoveClasses,
		[]string{transfersyntax.ExplicitVRLittleEndian})
	require.NoError(t, err)
	su := NewServiceUser(params)
	defer su.Release()
	su.Connect(addr)

	st := progress.NewState()
	err = su.CMove(sopclass.StudyRoot, "NOWHERE", nil, st, CMoveOptions{})
	require.Error(t, err)
	var remoteErr *RemoteDIMSEError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, dimse.CMoveMoveDestinationUnknown, remoteErr.Status.Status)
}

func TestE2EGet(t *testing.T) {
	const objectCount = 2
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	addr := startProvider(t, ServiceProviderParams{
		CGet: func(ci ConnectionInfo, ts, cuid string, filters []*dicom.Element) chan CMoveResult {
			ch := make(chan CMoveResult, objectCount)
			go func() {
				defer close(ch)
				for i := 0; i < objectCount; i++ {
					ch <- CMoveResult{
						Remaining:         objectCount - i - 1,
						SOPClassUID:       testCTStorage,
						SOPInstanceUID:    fmt.Sprintf("1.2.4.%d", i),
						TransferSyntaxUID: transfersyntax.ExplicitVRLittleEndian,
						Data:              payload,
					}
				}
			}()
			return ch
		},
	})
	// The retriever also receives: offer the storage class with reversed
	// roles on the same association.
	su := NewServiceUser(ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{
			{AbstractSyntaxUID: sopclass.StudyRootQRGet, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
			{AbstractSyntaxUID: testCTStorage, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
		},
		RoleSelections: []RoleSelection{
			{SOPClassUID: testCTStorage, SCU: false, SCP: true},
		},
		MaxPDUSize: DefaultMaxPDUSize,
	})
	defer su.Release()
	su.Connect(addr)

	var mu sync.Mutex
	var got []string
	st := progress.NewState()
	err := su.CGet(sopclass.StudyRoot, nil, st,
		func(ts, cuid, iuid string, data []byte) dimse.Status {
			mu.Lock()
			got = append(got, iuid)
			mu.Unlock()
			assert.Equal(t, payload, data)
			return dimse.Success
		}, CGetOptions{})
	require.NoError(t, err)
	assert.Equal(t, objectCount, st.Progress().Completed())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1.2.4.0", "1.2.4.1"}, got)
}

func TestE2EConcurrentStores(t *testing.T) {
	const workers = 3
	payloads := make([][]byte, workers)
	addrs := make([]string, workers)
	var mu sync.Mutex
	receivedBy := make(map[int][]byte)
	for i := 0; i < workers; i++ {
		i := i
		payloads[i] = bytes.Repeat([]byte{byte(i + 1)}, 2048+i*2)
		addrs[i] = startProvider(t, ServiceProviderParams{
			AETitle: fmt.Sprintf("SCP%d", i),
			CStore: func(ci ConnectionInfo, ts, cuid, iuid string, data []byte) dimse.Status {
				mu.Lock()
				receivedBy[i] = append([]byte(nil), data...)
				mu.Unlock()
				return dimse.Success
			},
		})
	}
	states := make([]*progress.State, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		states[i] = progress.NewState()
		wg.Add(1)
		go func() {
			defer wg.Done()
			su := NewServiceUser(ServiceUserParams{
				CalledAETitle:  fmt.Sprintf("SCP%d", i),
				CallingAETitle: "A",
				ContextOffers: []ContextOffer{{
					AbstractSyntaxUID:  testCTStorage,
					TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian},
				}},
				MaxPDUSize: DefaultMaxPDUSize,
			})
			defer su.Release()
			su.Connect(addrs[i])
			status, err := su.CStore(testCTStorage, fmt.Sprintf("1.9.%d", i), payloads[i], CStoreOptions{})
			require.NoError(t, err)
			assert.Equal(t, dimse.StatusSuccess, status.Status)
			states[i].Progress().IncrementCompleted()
			states[i].Progress().AddTotalSize(int64(len(payloads[i])))
		}()
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		assert.Equal(t, payloads[i], receivedBy[i], "worker %d", i)
		assert.Equal(t, 1, states[i].Progress().Completed())
		assert.Equal(t, int64(len(payloads[i])), states[i].Progress().TotalSize())
	}
}

func TestE2EConnectFailure(t *testing.T) {
	su := NewServiceUser(ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{{
			AbstractSyntaxUID:  sopclass.Verification,
			TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian},
		}},
	})
	// Nothing listens on this port.
	su.Connect("127.0.0.1:1")
	err := su.CEcho()
	require.Error(t, err)
}

func TestE2ENoAcceptedContext(t *testing.T) {
	addr := startProvider(t, ServiceProviderParams{
		TransferCapabilities: map[string][]string{
			sopclass.Verification: {transfersyntax.ExplicitVRLittleEndian},
		},
		CEcho: func(ci ConnectionInfo) dimse.Status { return dimse.Success },
	})
	su := NewServiceUser(ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{
			{AbstractSyntaxUID: sopclass.Verification, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
			{AbstractSyntaxUID: testCTStorage, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
		},
		MaxPDUSize: DefaultMaxPDUSize,
	})
	defer su.Release()
	su.Connect(addr)
	require.NoError(t, su.CEcho())
	// The storage class was rejected by the capability map; a store on it
	// must fail locally without touching the association.
	_, err := su.CStore(testCTStorage, "1.2.3", []byte{1, 2}, CStoreOptions{})
	require.ErrorIs(t, err, ErrNoAcceptedContext)
	// The association is still usable.
	require.NoError(t, su.CEcho())
}
