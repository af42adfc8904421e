package dicomnet

// ServiceProvider implements the acceptor (SCP) side: it listens for
// associations and dispatches inbound DIMSE requests to registered
// callbacks.

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/grailbio/go-dicom/dicomlog"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/suyashkumar/dicom"
)

// ConnectionInfo describes the association an inbound request arrived on.
type ConnectionInfo struct {
	CalledAETitle  string
	CallingAETitle string
	RemoteAddr     net.Addr
}

// CStoreCallback is called for each C-STORE request. data is the serialized
// dataset without file-meta elements; the two key identifiers travel in the
// command set. It returns the DIMSE status for the response: 0 once the
// object is stably written, or one of the 0xAxxx/0xCxxx codes.
type CStoreCallback func(ci ConnectionInfo, transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status

// CFindCallback serves one C-FIND. It returns a channel streaming one
// CFindResult per match; the callback must close the channel when done.
type CFindCallback func(ci ConnectionInfo, transferSyntaxUID, sopClassUID string, filters []*dicom.Element) chan CFindResult

// CMoveResult is one object produced by a C-MOVE or C-GET handler.
type CMoveResult struct {
	Remaining int // objects left after this one; -1 if unknown
	Err       error
	Path      string // used for diagnostics only
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string // encoding of Data
	Data              []byte // serialized dataset without file meta
}

// CMoveCallback serves a C-MOVE or C-GET. It returns a channel streaming
// the matched objects; the callback must close the channel when done.
type CMoveCallback func(ci ConnectionInfo, transferSyntaxUID, sopClassUID string, filters []*dicom.Element) chan CMoveResult

// CEchoCallback serves C-ECHO. It typically returns dimse.Success.
type CEchoCallback func(ci ConnectionInfo) dimse.Status

// ServiceProviderParams configures the acceptor.
type ServiceProviderParams struct {
	// AETitle of this provider. Must be nonempty.
	AETitle string

	// RemoteAEs names the C-MOVE destinations this provider can reach:
	// AE title -> host:port. Should be nonempty iff CMove is set.
	RemoteAEs map[string]string

	// TransferCapabilities constrains the accepted transfer syntaxes per
	// SOP class UID (the transfer-capability properties file, parsed). A
	// nil map accepts the first proposed syntax for every class; an empty
	// allowed list accepts the first proposed syntax for that class.
	TransferCapabilities map[string][]string

	// Authorize, when non-nil, gates the association before it is
	// accepted. Returning an error answers A-ASSOCIATE-RJ with
	// calling-AE-title-not-recognized.
	Authorize func(callingAETitle string, conn net.Conn) error

	Timeouts TimeoutConfig

	// Per-verb handlers. A nil handler answers the corresponding request
	// with an unrecognized-operation error status.
	CEcho  CEchoCallback
	CFind  CFindCallback
	CMove  CMoveCallback
	CGet   CMoveCallback
	CStore CStoreCallback
}

func (p ServiceProviderParams) authorize(callingAETitle string, conn net.Conn) error {
	if p.Authorize == nil {
		return nil
	}
	return p.Authorize(callingAETitle, conn)
}

func (p ServiceProviderParams) artimOrDefault() time.Duration {
	if p.Timeouts.Accept != 0 {
		return p.Timeouts.Accept
	}
	return defaultARTIMDuration
}

// ServiceProvider listens for incoming associations. Run() starts serving.
type ServiceProvider struct {
	params   ServiceProviderParams
	listener net.Listener
	label    int64
}

// NewServiceProvider creates a provider. Run or RunProviderForConn starts
// the actual service.
func NewServiceProvider(params ServiceProviderParams) *ServiceProvider {
	return &ServiceProvider{params: params}
}

// Listen binds the TCP listener without accepting yet. Addr() is valid
// afterwards, which is useful with ":0".
func (sp *ServiceProvider) Listen(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	sp.listener = listener
	return nil
}

// Addr returns the bound listener address.
func (sp *ServiceProvider) Addr() net.Addr {
	if sp.listener == nil {
		return nil
	}
	return sp.listener.Addr()
}

// Close stops accepting new associations.
func (sp *ServiceProvider) Close() error {
	if sp.listener == nil {
		return nil
	}
	return sp.listener.Close()
}

// Run listens on listenAddr (unless Listen was already called) and serves
// until the listener fails.
func (sp *ServiceProvider) Run(listenAddr string) error {
	if sp.listener == nil {
		if err := sp.Listen(listenAddr); err != nil {
			return err
		}
	}
	for {
		conn, err := sp.listener.Accept()
		if err != nil {
			return err
		}
		label := fmt.Sprintf("scp(%s)#%d", sp.params.AETitle, atomic.AddInt64(&sp.label, 1))
		go RunProviderForConn(conn, sp.params, label)
	}
}

// RunProviderForConn serves the DICOM protocol on an accepted connection.
// It returns when the association finishes; conn is closed on the way out.
func RunProviderForConn(conn net.Conn, params ServiceProviderParams, label string) {
	upcallCh := make(chan upcallEvent, 128)
	disp := newServiceDispatcher(label)
	ci := ConnectionInfo{RemoteAddr: conn.RemoteAddr()}

	registerProviderCallbacks(disp, params, &ci)
	go runStateMachineForServiceProvider(conn, params, upcallCh, disp.downcallCh, nil, label)
	handshakeCompleted := false
	for event := range upcallCh {
		if event.eventType == upcallEventHandshakeCompleted {
			doassert(!handshakeCompleted)
			handshakeCompleted = true
			ci.CalledAETitle = event.aeTitles[0]
			ci.CallingAETitle = event.aeTitles[1]
			continue
		}
		doassert(event.eventType == upcallEventData)
		doassert(handshakeCompleted)
		disp.handleEvent(event)
	}
	disp.close()
	dicomlog.Vprintf(2, "dicom.serviceProvider(%s): finished", label)
}

func registerProviderCallbacks(disp *serviceDispatcher, params ServiceProviderParams, ci *ConnectionInfo) {
	disp.registerCallback(dimse.CommandFieldCEchoRq,
		func(msg dimse.Message, data []byte, cs *serviceCommandState) {
			handleCEcho(params, *ci, msg.(*dimse.CEchoRq), cs)
		})
	disp.registerCallback(dimse.CommandFieldCStoreRq,
		func(msg dimse.Message, data []byte, cs *serviceCommandState) {
			handleCStore(params, *ci, msg.(*dimse.CStoreRq), data, cs)
		})
	disp.registerCallback(dimse.CommandFieldCFindRq,
		func(msg dimse.Message, data []byte, cs *serviceCommandState) {
			handleCFind(params, *ci, msg.(*dimse.CFindRq), data, cs)
		})
	disp.registerCallback(dimse.CommandFieldCMoveRq,
		func(msg dimse.Message, data []byte, cs *serviceCommandState) {
			handleCMove(params, *ci, msg.(*dimse.CMoveRq), data, cs)
		})
	disp.registerCallback(dimse.CommandFieldCGetRq,
		func(msg dimse.Message, data []byte, cs *serviceCommandState) {
			handleCGet(params, *ci, msg.(*dimse.CGetRq), data, cs)
		})
}

func handleCEcho(params ServiceProviderParams, ci ConnectionInfo, c *dimse.CEchoRq, cs *serviceCommandState) {
	status := dimse.Status{Status: dimse.StatusUnrecognizedOperation}
	if params.CEcho != nil {
		status = params.CEcho(ci)
	}
	cs.sendMessage(&dimse.CEchoRsp{
		MessageIDBeingRespondedTo: c.MessageID,
		CommandDataSetType:        dimse.CommandDataSetTypeNull,
		Status:                    status,
	}, nil)
}

func handleCStore(params ServiceProviderParams, ci ConnectionInfo, c *dimse.CStoreRq, data []byte, cs *serviceCommandState) {
	status := dimse.Status{Status: dimse.StatusUnrecognizedOperation}
	if params.CStore != nil {
		status = params.CStore(ci, cs.context.transferSyntaxUID,
			c.AffectedSOPClassUID, c.AffectedSOPInstanceUID, data)
	}
	cs.sendMessage(&dimse.CStoreRsp{
		AffectedSOPClassUID:       c.AffectedSOPClassUID,
		MessageIDBeingRespondedTo: c.MessageID,
		CommandDataSetType:        dimse.CommandDataSetTypeNull,
		AffectedSOPInstanceUID:    c.AffectedSOPInstanceUID,
		Status:                    status,
	}, nil)
}

func handleCFind(params ServiceProviderParams, ci ConnectionInfo, c *dimse.CFindRq, data []byte, cs *serviceCommandState) {
	sendRsp := func(status dimse.Status, payload []byte) {
		dataSetType := dimse.CommandDataSetTypeNull
		if payload != nil {
			dataSetType = dimse.CommandDataSetTypeNonNull
		}
		cs.sendMessage(&dimse.CFindRsp{
			AffectedSOPClassUID:       c.AffectedSOPClassUID,
			MessageIDBeingRespondedTo: c.MessageID,
			CommandDataSetType:        dataSetType,
			Status:                    status,
		}, payload)
	}
	if params.CFind == nil {
		sendRsp(dimse.Status{Status: dimse.StatusUnrecognizedOperation, ErrorComment: "No C-FIND handler registered"}, nil)
		return
	}
	elems, err := readElementsInBytes(data, cs.context.transferSyntaxUID)
	if err != nil {
		sendRsp(dimse.Status{Status: dimse.CFindUnableToProcess, ErrorComment: err.Error()}, nil)
		return
	}
	status := dimse.Status{Status: dimse.StatusSuccess}
	responseCh := params.CFind(ci, cs.context.transferSyntaxUID, c.AffectedSOPClassUID, elems)
	for resp := range responseCh {
		if cs.isCancelled() {
			status = dimse.Status{Status: dimse.StatusCancel}
			break
		}
		if resp.Err != nil {
			status = dimse.Status{Status: dimse.CFindUnableToProcess, ErrorComment: resp.Err.Error()}
			break
		}
		payload, err := writeElementsToBytes(resp.Elements, cs.context.transferSyntaxUID)
		if err != nil {
			status = dimse.Status{Status: dimse.CFindUnableToProcess, ErrorComment: err.Error()}
			break
		}
		sendRsp(dimse.Status{Status: dimse.StatusPending}, payload)
	}
	sendRsp(status, nil)
	for range responseCh {
		// drain after error
	}
}

func handleCMove(params ServiceProviderParams, ci ConnectionInfo, c *dimse.CMoveRq, data []byte, cs *serviceCommandState) {
	sendRsp := func(status dimse.Status, counts dimse.SubOperationCounts) {
		cs.sendMessage(&dimse.CMoveRsp{
			AffectedSOPClassUID:            c.AffectedSOPClassUID,
			MessageIDBeingRespondedTo:      c.MessageID,
			CommandDataSetType:             dimse.CommandDataSetTypeNull,
			NumberOfRemainingSuboperations: counts.Remaining,
			NumberOfCompletedSuboperations: counts.Completed,
			NumberOfFailedSuboperations:    counts.Failed,
			NumberOfWarningSuboperations:   counts.Warning,
			Status:                         status,
		}, nil)
	}
	if params.CMove == nil {
		sendRsp(dimse.Status{Status: dimse.StatusUnrecognizedOperation, ErrorComment: "No C-MOVE handler registered"}, dimse.SubOperationCounts{})
		return
	}
	remoteHostPort, ok := params.RemoteAEs[c.MoveDestination]
	if !ok {
		sendRsp(dimse.Status{Status: dimse.CMoveMoveDestinationUnknown,
			ErrorComment: fmt.Sprintf("C-MOVE destination %q not registered", c.MoveDestination)}, dimse.SubOperationCounts{})
		return
	}
	elems, err := readElementsInBytes(data, cs.context.transferSyntaxUID)
	if err != nil {
		sendRsp(dimse.Status{Status: dimse.CFindUnableToProcess, ErrorComment: err.Error()}, dimse.SubOperationCounts{})
		return
	}
	responseCh := params.CMove(ci, cs.context.transferSyntaxUID, c.AffectedSOPClassUID, elems)
	status := dimse.Status{Status: dimse.StatusSuccess}
	var counts dimse.SubOperationCounts
	for resp := range responseCh {
		if cs.isCancelled() {
			status = dimse.Status{Status: dimse.StatusCancel}
			break
		}
		if resp.Err != nil {
			status = dimse.Status{Status: dimse.CMoveOutOfResourcesUnableToPerformSubOperations, ErrorComment: resp.Err.Error()}
			break
		}
		dicomlog.Vprintf(1, "dicom.serviceProvider: C-MOVE sending %v to %v(%s)", resp.Path, c.MoveDestination, remoteHostPort)
		err := runCStoreOnNewAssociation(params.AETitle, c.MoveDestination, remoteHostPort, ci.CallingAETitle, c.MessageID, resp)
		if err != nil {
			dicomlog.Vprintf(0, "dicom.serviceProvider: C-MOVE C-STORE of %v to %v failed: %v", resp.Path, c.MoveDestination, err)
			counts.Failed++
		} else {
			counts.Completed++
		}
		if resp.Remaining >= 0 {
			counts.Remaining = uint16(resp.Remaining)
		}
		sendRsp(dimse.Status{Status: dimse.StatusPending}, counts)
	}
	counts.Remaining = 0
	sendRsp(status, counts)
	for range responseCh {
	}
}

func handleCGet(params ServiceProviderParams, ci ConnectionInfo, c *dimse.CGetRq, data []byte, cs *serviceCommandState) {
	sendRsp := func(status dimse.Status, counts dimse.SubOperationCounts) {
		cs.sendMessage(&dimse.CGetRsp{
			AffectedSOPClassUID:            c.AffectedSOPClassUID,
			MessageIDBeingRespondedTo:      c.MessageID,
			CommandDataSetType:             dimse.CommandDataSetTypeNull,
			NumberOfRemainingSuboperations: counts.Remaining,
			NumberOfCompletedSuboperations: counts.Completed,
			NumberOfFailedSuboperations:    counts.Failed,
			NumberOfWarningSuboperations:   counts.Warning,
			Status:                         status,
		}, nil)
	}
	if params.CGet == nil {
		sendRsp(dimse.Status{Status: dimse.StatusUnrecognizedOperation, ErrorComment: "No C-GET handler registered"}, dimse.SubOperationCounts{})
		return
	}
	elems, err := readElementsInBytes(data, cs.context.transferSyntaxUID)
	if err != nil {
		sendRsp(dimse.Status{Status: dimse.CFindUnableToProcess, ErrorComment: err.Error()}, dimse.SubOperationCounts{})
		return
	}
	responseCh := params.CGet(ci, cs.context.transferSyntaxUID, c.AffectedSOPClassUID, elems)
	status := dimse.Status{Status: dimse.StatusSuccess}
	var counts dimse.SubOperationCounts
	for resp := range responseCh {
		// An in-flight sub-operation always completes before the cancel
		// flag is honored.
		if cs.isCancelled() {
			status = dimse.Status{Status: dimse.StatusCancel}
			break
		}
		if resp.Err != nil {
			status = dimse.Status{Status: dimse.CMoveOutOfResourcesUnableToPerformSubOperations, ErrorComment: resp.Err.Error()}
			break
		}
		// The object travels back on this same association as a C-STORE
		// sub-operation.
		storeContext, err := cs.cm.selectTransferSyntax(resp.SOPClassUID, resp.TransferSyntaxUID)
		if err == nil {
			subCs, errCmd := cs.disp.newCommand(cs.cm, storeContext)
			if errCmd != nil {
				err = errCmd
			} else {
				_, err = runCStoreOnAssociation(subCs, resp.SOPClassUID, resp.SOPInstanceUID, resp.Data, CStoreOptions{
					TransferSyntaxUID: resp.TransferSyntaxUID,
				})
				cs.disp.deleteCommand(subCs)
			}
		}
		if err != nil {
			dicomlog.Vprintf(0, "dicom.serviceProvider: C-GET C-STORE of %v failed: %v", resp.Path, err)
			counts.Failed++
		} else {
			counts.Completed++
		}
		if resp.Remaining >= 0 {
			counts.Remaining = uint16(resp.Remaining)
		}
		sendRsp(dimse.Status{Status: dimse.StatusPending}, counts)
	}
	counts.Remaining = 0
	sendRsp(status, counts)
	for range responseCh {
	}
}

// runCStoreOnNewAssociation sends one object to remoteHostPort over a fresh
// association, as part of serving a C-MOVE.
func runCStoreOnNewAssociation(myAETitle, remoteAETitle, remoteHostPort, originatorAET string,
	originatorMessageID dimse.MessageID, resp CMoveResult) error {
	// Offer the object's own syntax first so the acceptor binds it to the
	// context; the uncompressed syntaxes ride along as a fallback.
	offer := ContextOffer{
		AbstractSyntaxUID:  resp.SOPClassUID,
		TransferSyntaxUIDs: append([]string{resp.TransferSyntaxUID}, transfersyntax.StandardLittleEndianSyntaxes...),
	}
	su := NewServiceUser(ServiceUserParams{
		CalledAETitle:  remoteAETitle,
		CallingAETitle: myAETitle,
		ContextOffers:  []ContextOffer{offer},
		MaxPDUSize:     DefaultMaxPDUSize,
	})
	defer su.Release()
	su.Connect(remoteHostPort)
	status, err := su.CStore(resp.SOPClassUID, resp.SOPInstanceUID, resp.Data, CStoreOptions{
		TransferSyntaxUID:       resp.TransferSyntaxUID,
		MoveOriginatorAETitle:   originatorAET,
		MoveOriginatorMessageID: originatorMessageID,
	})
	if err != nil {
		return err
	}
	if status.Status != dimse.StatusSuccess && !status.Status.IsWarning() {
		return &RemoteDIMSEError{Status: status}
	}
	return nil
}
