package dicomnet

// Implements the network statemachine, as defined in P3.8 9.2.3.
// http://dicom.nema.org/medical/dicom/current/output/pdf/part08.pdf

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grailbio/go-dicom/dicomlog"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/pdu"
)

type stateType int

const (
	sta01 stateType = iota + 1
	sta02
	sta03
	sta04
	sta05
	sta06
	sta07
	sta08
	sta09
	sta10
	sta11
	sta12
	sta13
)

var stateDescriptions = map[stateType]string{
	sta01: "Idle",
	sta02: "Transport connection open (Awaiting A-ASSOCIATE-RQ PDU)",
	sta03: "Awaiting local A-ASSOCIATE response primitive (from local user)",
	sta04: "Awaiting transport connection opening to complete (from local transport service)",
	sta05: "Awaiting A-ASSOCIATE-AC or A-ASSOCIATE-RJ PDU",
	sta06: "Association established and ready for data transfer",
	sta07: "Awaiting A-RELEASE-RP PDU",
	sta08: "Awaiting local A-RELEASE response primitive (from local user)",
	sta09: "Release collision requestor side; awaiting A-RELEASE response (from local user)",
	sta10: "Release collision acceptor side; awaiting A-RELEASE-RP PDU",
	sta11: "Release collision requestor side; awaiting A-RELEASE-RP PDU",
	sta12: "Release collision acceptor side; awaiting A-RELEASE response primitive (from local user)",
	sta13: "Awaiting Transport Connection Close Indication (Association no longer exists)",
}

func (s *stateType) String() string {
	description, ok := stateDescriptions[*s]
	if !ok {
		description = "Unknown state"
	}
	return fmt.Sprintf("sta%02d(%s)", int(*s), description)
}

type eventType int

const (
	evt01 eventType = iota + 1
	evt02
	evt03
	evt04
	evt05
	evt06
	evt07
	evt08
	evt09
	evt10
	evt11
	evt12
	evt13
	evt14
	evt15
	evt16
	evt17
	evt18
	evt19
)

var eventDescriptions = map[eventType]string{
	evt01: "A-ASSOCIATE request (local user)",
	evt02: "Connection established (for service user)",
	evt03: "A-ASSOCIATE-AC PDU (received on transport connection)",
	evt04: "A-ASSOCIATE-RJ PDU (received on transport connection)",
	evt05: "Connection accepted (for service provider)",
	evt06: "A-ASSOCIATE-RQ PDU (on transport connection)",
	evt07: "A-ASSOCIATE response primitive (accept)",
	evt08: "A-ASSOCIATE response primitive (reject)",
	evt09: "P-DATA request primitive",
	evt10: "P-DATA-TF PDU (on transport connection)",
	evt11: "A-RELEASE request primitive",
	evt12: "A-RELEASE-RQ PDU (on transport)",
	evt13: "A-RELEASE-RP PDU (on transport)",
	evt14: "A-RELEASE response primitive",
	evt15: "A-ABORT request primitive",
	evt16: "A-ABORT PDU (on transport)",
	evt17: "Transport connection closed indication (local transport service)",
	evt18: "ARTIM timer expired (Association reject/release timer)",
	evt19: "Unrecognized or invalid PDU received",
}

func (e *eventType) String() string {
	description, ok := eventDescriptions[*e]
	if !ok {
		description = "Unknown event"
	}
	return fmt.Sprintf("evt%02d(%s)", int(*e), description)
}

type stateAction struct {
	Name        string
	Description string
	Callback    func(sm *stateMachine, event stateEvent) stateType
}

func (s *stateAction) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Description)
}

var actionAe1 = &stateAction{"AE-1",
	"Issue TRANSPORT CONNECT request primitive to local transport service",
	func(sm *stateMachine, event stateEvent) stateType {
		// Nothing to do now. We expect the service user to dial a connection
		// and emit either evt02 (on success) or evt17 (on failure).
		return sta04
	}}

var actionAe2 = &stateAction{"AE-2", "Connection established on the user side. Send A-ASSOCIATE-RQ-PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		doassert(event.conn != nil)
		sm.conn = event.conn
		go networkReaderThread(sm.netCh, event.conn, DefaultMaxPDUSize, sm.label)
		items := sm.contextManager.generateAssociateRequest(sm.userParams)
		rq := &pdu.AAssociateRQ{
			ProtocolVersion: pdu.CurrentProtocolVersion,
			CalledAETitle:   sm.userParams.CalledAETitle,
			CallingAETitle:  sm.userParams.CallingAETitle,
			Items:           items,
		}
		sendPDU(sm, rq)
		sm.startTimer()
		return sta05
	}}

var actionAe3 = &stateAction{"AE-3", "Issue A-ASSOCIATE confirmation (accept) primitive",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		v := event.pdu.(*pdu.AAssociateAC)
		err := sm.contextManager.onAssociateResponse(v.Items)
		if err == nil {
			sm.upcallCh <- upcallEvent{
				eventType: upcallEventHandshakeCompleted,
				cm:        sm.contextManager,
			}
			return sta06
		}
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): AE-3: %v", sm.label, err)
		sm.setFinalErr(err)
		return actionAa8.Callback(sm, event)
	}}

var actionAe4 = &stateAction{"AE-4", "Issue A-ASSOCIATE confirmation (reject) primitive and close transport connection",
	func(sm *stateMachine, event stateEvent) stateType {
		rj := event.pdu.(*pdu.AAssociateRj)
		sm.setFinalErr(fmt.Errorf("%w: association rejected (result %d, source %d, reason %d)",
			ErrConnectFailed, rj.Result, rj.Source, rj.Reason))
		sm.closeConnection()
		return sta01
	}}

var actionAe5 = &stateAction{"AE-5", "Issue Transport connection response primitive; start ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		doassert(event.conn != nil)
		sm.startTimer()
		go networkReaderThread(sm.netCh, event.conn, DefaultMaxPDUSize, sm.label)
		return sta02
	}}

var actionAe6 = &stateAction{"AE-6", `Stop ARTIM timer and if A-ASSOCIATE-RQ acceptable by
service-dul: issue A-ASSOCIATE indication primitive,
otherwise issue A-ASSOCIATE-RJ-PDU and start ARTIM timer`,
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		v := event.pdu.(*pdu.AAssociateRQ)
		if v.ProtocolVersion&0x0001 == 0 {
			dicomlog.Vprintf(0, "dicom.stateMachine(%s): Wrong remote protocol version 0x%x", sm.label, v.ProtocolVersion)
			rj := pdu.AAssociateRj{Result: pdu.ResultRejectedPermanent, Source: pdu.SourceULServiceProviderACSE, Reason: 2}
			sendPDU(sm, &rj)
			sm.startTimer()
			return sta13
		}
		if err := sm.providerParams.authorize(v.CallingAETitle, sm.conn); err != nil {
			dicomlog.Vprintf(0, "dicom.stateMachine(%s): Rejecting caller %q: %v", sm.label, v.CallingAETitle, err)
			sm.downcallCh <- stateEvent{
				event: evt08,
				pdu: &pdu.AAssociateRj{
					Result: pdu.ResultRejectedPermanent,
					Source: pdu.SourceULServiceUser,
					Reason: pdu.RejectReasonCallingAETitleNotRecognized,
				},
			}
			return sta03
		}
		responses, err := sm.contextManager.onAssociateRequest(
			v.Items, sm.providerParams.TransferCapabilities, DefaultMaxPDUSize)
		if err != nil {
			sm.downcallCh <- stateEvent{
				event: evt08,
				pdu: &pdu.AAssociateRj{
					Result: pdu.ResultRejectedPermanent,
					Source: pdu.SourceULServiceProviderACSE,
					Reason: pdu.RejectReasonNone,
				},
			}
		} else {
			doassert(len(responses) > 0)
			doassert(v.CalledAETitle != "")
			doassert(v.CallingAETitle != "")
			sm.remoteAETitle = v.CallingAETitle
			sm.localAETitle = v.CalledAETitle
			sm.downcallCh <- stateEvent{
				event: evt07,
				pdu: &pdu.AAssociateAC{
					ProtocolVersion: pdu.CurrentProtocolVersion,
					CalledAETitle:   v.CalledAETitle,
					CallingAETitle:  v.CallingAETitle,
					Items:           responses,
				},
			}
		}
		return sta03
	}}

var actionAe7 = &stateAction{"AE-7", "Send A-ASSOCIATE-AC PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, event.pdu.(*pdu.AAssociateAC))
		sm.upcallCh <- upcallEvent{
			eventType: upcallEventHandshakeCompleted,
			cm:        sm.contextManager,
			aeTitles:  [2]string{sm.localAETitle, sm.remoteAETitle},
		}
		return sta06
	}}

var actionAe8 = &stateAction{"AE-8", "Send A-ASSOCIATE-RJ PDU and start ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, event.pdu.(*pdu.AAssociateRj))
		sm.setFinalErr(ErrConnectFailed)
		sm.startTimer()
		return sta13
	}}

// splitDataIntoPDUs produces the list of P-DATA-TF PDUs that collectively
// carry "data". Each PDU stays within the peer's maximum PDU length; the
// final fragment has the Last bit set.
func splitDataIntoPDUs(sm *stateMachine, contextID byte, command bool, data []byte) []pdu.PDataTf {
	// Each PDV carries 6 bytes of framing (4-byte length, context ID,
	// flags) inside the PDU payload.
	maxChunkSize := sm.contextManager.effectivePeerMaxPDUSize() - 6
	doassert(maxChunkSize > 0)
	if len(data) == 0 {
		// An empty stream still needs its last-fragment marker.
		return []pdu.PDataTf{{Items: []pdu.PresentationDataValueItem{
			{ContextID: contextID, Command: command, Last: true},
		}}}
	}
	var pdus []pdu.PDataTf
	for len(data) > 0 {
		chunkSize := len(data)
		if chunkSize > maxChunkSize {
			chunkSize = maxChunkSize
		}
		chunk := data[0:chunkSize]
		data = data[chunkSize:]
		pdus = append(pdus, pdu.PDataTf{Items: []pdu.PresentationDataValueItem{
			{
				ContextID: contextID,
				Command:   command,
				Last:      false, // set on the final fragment below
				Value:     chunk,
			}}})
	}
	if len(pdus) > 0 {
		pdus[len(pdus)-1].Items[0].Last = true
	}
	return pdus
}

func sendDIMSEPayload(sm *stateMachine, payload *stateEventDIMSEPayload) bool {
	command := payload.command
	doassert(command != nil)
	e := bytes.Buffer{}
	if err := dimse.EncodeMessage(&e, command); err != nil {
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): Failed to encode DIMSE command %v: %v", sm.label, command, err)
		sm.setFinalErr(fmt.Errorf("%w: %v", ErrProtocol, err))
		return false
	}
	dicomlog.Vprintf(1, "dicom.stateMachine(%s): Send DIMSE msg: %v", sm.label, command)
	for _, p := range splitDataIntoPDUs(sm, payload.contextID, true /*command*/, e.Bytes()) {
		p := p
		sendPDU(sm, &p)
	}
	if command.HasData() {
		dicomlog.Vprintf(1, "dicom.stateMachine(%s): Send DIMSE data of %db, command: %v",
			sm.label, len(payload.data), command)
		for _, p := range splitDataIntoPDUs(sm, payload.contextID, false /*data*/, payload.data) {
			p := p
			sendPDU(sm, &p)
		}
	} else if len(payload.data) > 0 {
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): Dropping spurious DIMSE data of %db for command %v",
			sm.label, len(payload.data), command)
	}
	return true
}

// Data transfer related actions
var actionDt1 = &stateAction{"DT-1", "Send P-DATA-TF PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		doassert(event.dimsePayload != nil)
		if !sendDIMSEPayload(sm, event.dimsePayload) {
			return actionAa8.Callback(sm, event)
		}
		return sta06
	}}

var actionDt2 = &stateAction{"DT-2", "Send P-DATA indication primitive",
	func(sm *stateMachine, event stateEvent) stateType {
		contextID, command, data, err := sm.commandAssembler.AddDataPDU(event.pdu.(*pdu.PDataTf))
		if err == nil {
			if command != nil { // All fragments received
				dicomlog.Vprintf(1, "dicom.stateMachine(%s): DIMSE message: %v", sm.label, command)
				sm.upcallCh <- upcallEvent{
					eventType: upcallEventData,
					cm:        sm.contextManager,
					contextID: contextID,
					command:   command,
					data:      data}
			}
			return sta06
		}
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): Failed to assemble data: %v", sm.label, err)
		sm.setFinalErr(fmt.Errorf("%w: %v", ErrProtocol, err))
		return actionAa8.Callback(sm, event)
	}}

// Association release related actions
var actionAr1 = &stateAction{"AR-1", "Send A-RELEASE-RQ PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, &pdu.AReleaseRq{})
		sm.startTimer()
		return sta07
	}}
var actionAr2 = &stateAction{"AR-2", "Issue A-RELEASE indication primitive",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.downcallCh <- stateEvent{event: evt14}
		return sta08
	}}

var actionAr3 = &stateAction{"AR-3", "Issue A-RELEASE confirmation primitive and close transport connection",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		sm.closeConnection()
		return sta01
	}}
var actionAr4 = &stateAction{"AR-4", "Issue A-RELEASE-RP PDU and start ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, &pdu.AReleaseRp{})
		sm.startTimer()
		return sta13
	}}

var actionAr5 = &stateAction{"AR-5", "Stop ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		return sta01
	}}

var actionAr6 = &stateAction{"AR-6", "Issue P-DATA indication",
	func(sm *stateMachine, event stateEvent) stateType {
		return sta07
	}}

var actionAr7 = &stateAction{"AR-7", "Issue P-DATA-TF PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		doassert(event.dimsePayload != nil)
		if !sendDIMSEPayload(sm, event.dimsePayload) {
			return actionAa8.Callback(sm, event)
		}
		sm.downcallCh <- stateEvent{event: evt14}
		return sta08
	}}

var actionAr8 = &stateAction{"AR-8", "Issue A-RELEASE indication (release collision): if association-requestor, next state is Sta09, if not next state is Sta10",
	func(sm *stateMachine, event stateEvent) stateType {
		if sm.isUser {
			return sta09
		}
		return sta10
	}}

var actionAr9 = &stateAction{"AR-9", "Send A-RELEASE-RP PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, &pdu.AReleaseRp{})
		return sta11
	}}

var actionAr10 = &stateAction{"AR-10", "Issue A-RELEASE confirmation primitive",
	func(sm *stateMachine, event stateEvent) stateType {
		return sta12
	}}

// Association abort related actions
var actionAa1 = &stateAction{"AA-1", "Send A-ABORT PDU (service-user source) and start (or restart if already started) ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		abortPDU := &pdu.AAbort{Source: pdu.SourceULServiceUser, Reason: pdu.AbortReasonNotSpecified}
		if a, ok := event.pdu.(*pdu.AAbort); ok {
			abortPDU = a
		} else if sm.currentState == sta02 {
			abortPDU.Reason = pdu.AbortReasonUnexpectedPDU
		}
		sendPDU(sm, abortPDU)
		sm.setFinalErr(ErrAssociationAborted)
		sm.restartTimer()
		return sta13
	}}

var actionAa2 = &stateAction{"AA-2", "Stop ARTIM timer if running. Close transport connection",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		sm.closeConnection()
		return sta01
	}}

var actionAa3 = &stateAction{"AA-3", "Issue A-ABORT (or A-P-ABORT) indication and close transport connection",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.setFinalErr(ErrAssociationAborted)
		sm.closeConnection()
		return sta01
	}}

var actionAa4 = &stateAction{"AA-4", "Issue A-P-ABORT indication primitive",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.setFinalErr(ErrAssociationAborted)
		sm.closeUpcalls()
		return sta01
	}}

var actionAa5 = &stateAction{"AA-5", "Stop ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		sm.stopTimer()
		return sta01
	}}

var actionAa6 = &stateAction{"AA-6", "Ignore PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		return sta13
	}}

var actionAa7 = &stateAction{"AA-7", "Send A-ABORT PDU",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, &pdu.AAbort{Source: pdu.SourceULServiceUser, Reason: pdu.AbortReasonNotSpecified})
		return sta13
	}}

var actionAa8 = &stateAction{"AA-8", "Send A-ABORT PDU (service-dul source), issue an A-P-ABORT indication and start ARTIM timer",
	func(sm *stateMachine, event stateEvent) stateType {
		sendPDU(sm, &pdu.AAbort{Source: pdu.SourceULServiceProviderACSE, Reason: pdu.AbortReasonNotSpecified})
		sm.setFinalErr(ErrAssociationAborted)
		sm.startTimer()
		return sta13
	}}

type upcallEventType int

const (
	upcallEventHandshakeCompleted = upcallEventType(100)
	upcallEventData               = upcallEventType(101)
	// Connection shutdown and errors close the channel instead of carrying
	// dedicated event types.
)

type upcallEvent struct {
	eventType upcallEventType

	// cm maps context IDs to the negotiated (abstract syntax, transfer
	// syntax) pairs. Set for both event types.
	cm *contextManager

	// aeTitles carries {local, remote} AE titles on the provider side once
	// the handshake completes.
	aeTitles [2]string

	// contextID identifies the presentation context of the inbound message.
	// Set only in upcallEventData events.
	contextID byte

	command dimse.Message
	data    []byte
}

type stateEventDIMSEPayload struct {
	// contextID is the presentation context to carry the message on.
	contextID byte

	// command to send. Its encoding may exceed the peer's max PDU size, in
	// which case it is split into multiple PresentationDataValueItems.
	command dimse.Message

	// data is the payload, sent iff command.HasData().
	data []byte
}

type stateEventDebugInfo struct {
	state stateType // the state the system was in when the timer was created
}

type stateEvent struct {
	event eventType
	pdu   pdu.PDU
	err   error
	conn  net.Conn

	dimsePayload *stateEventDIMSEPayload // set iff event==evt09
	debug        *stateEventDebugInfo
}

func (e *stateEvent) String() string {
	debug := ""
	if e.debug != nil {
		debug = e.debug.state.String()
	}
	return fmt.Sprintf("type:%s err:%v debug:%v pdu:%v",
		e.event.String(), e.err, debug, e.pdu)
}

type stateTransitionKey struct {
	current stateType
	event   eventType
}

var stateTransitions = map[stateTransitionKey]*stateAction{
	{sta01, evt01}: actionAe1,
	{sta01, evt05}: actionAe5,
	{sta02, evt03}: actionAa1,
	{sta02, evt04}: actionAa1,
	{sta02, evt06}: actionAe6,
	{sta02, evt10}: actionAa1,
	{sta02, evt12}: actionAa1,
	{sta02, evt13}: actionAa1,
	{sta02, evt16}: actionAa2,
	{sta02, evt17}: actionAa5,
	{sta02, evt18}: actionAa2,
	{sta02, evt19}: actionAa1,
	{sta03, evt03}: actionAa8,
	{sta03, evt04}: actionAa8,
	{sta03, evt06}: actionAa8,
	{sta03, evt07}: actionAe7,
	{sta03, evt08}: actionAe8,
	{sta03, evt10}: actionAa8,
	{sta03, evt12}: actionAa8,
	{sta03, evt13}: actionAa8,
	{sta03, evt15}: actionAa1,
	{sta03, evt16}: actionAa3,
	{sta03, evt17}: actionAa4,
	{sta03, evt19}: actionAa8,
	{sta04, evt02}: actionAe2,
	{sta04, evt15}: actionAa2,
	{sta04, evt17}: actionAa4,
	{sta05, evt03}: actionAe3,
	{sta05, evt04}: actionAe4,
	{sta05, evt06}: actionAa8,
	{sta05, evt10}: actionAa8,
	{sta05, evt12}: actionAa8,
	{sta05, evt13}: actionAa8,
	{sta05, evt15}: actionAa1,
	{sta05, evt16}: actionAa3,
	{sta05, evt17}: actionAa4,
	{sta05, evt18}: actionAa8,
	{sta05, evt19}: actionAa8,
	{sta06, evt03}: actionAa8,
	{sta06, evt04}: actionAa8,
	{sta06, evt06}: actionAa8,
	{sta06, evt09}: actionDt1,
	{sta06, evt10}: actionDt2,
	{sta06, evt11}: actionAr1,
	{sta06, evt12}: actionAr2,
	{sta06, evt13}: actionAa8,
	{sta06, evt15}: actionAa1,
	{sta06, evt16}: actionAa3,
	{sta06, evt17}: actionAa4,
	{sta06, evt19}: actionAa8,
	{sta07, evt03}: actionAa8,
	{sta07, evt04}: actionAa8,
	{sta07, evt06}: actionAa8,
	{sta07, evt10}: actionAr6,
	{sta07, evt12}: actionAr8,
	{sta07, evt13}: actionAr3,
	{sta07, evt15}: actionAa1,
	{sta07, evt16}: actionAa3,
	{sta07, evt17}: actionAa4,
	{sta07, evt18}: actionAa8,
	{sta07, evt19}: actionAa8,
	{sta08, evt03}: actionAa8,
	{sta08, evt04}: actionAa8,
	{sta08, evt06}: actionAa8,
	{sta08, evt09}: actionAr7,
	{sta08, evt10}: actionAa8,
	{sta08, evt12}: actionAa8,
	{sta08, evt13}: actionAa8,
	{sta08, evt14}: actionAr4,
	{sta08, evt15}: actionAa1,
	{sta08, evt16}: actionAa3,
	{sta08, evt17}: actionAa4,
	{sta08, evt19}: actionAa8,
	{sta09, evt03}: actionAa8,
	{sta09, evt04}: actionAa8,
	{sta09, evt06}: actionAa8,
	{sta09, evt10}: actionAa8,
	{sta09, evt12}: actionAa8,
	{sta09, evt13}: actionAa8,
	{sta09, evt14}: actionAr9,
	{sta09, evt15}: actionAa1,
	{sta09, evt16}: actionAa3,
	{sta09, evt17}: actionAa4,
	{sta09, evt19}: actionAa8,
	{sta10, evt03}: actionAa8,
	{sta10, evt04}: actionAa8,
	{sta10, evt06}: actionAa8,
	{sta10, evt10}: actionAa8,
	{sta10, evt12}: actionAa8,
	{sta10, evt13}: actionAr10,
	{sta10, evt15}: actionAa1,
	{sta10, evt16}: actionAa3,
	{sta10, evt17}: actionAa4,
	{sta10, evt19}: actionAa8,
	{sta11, evt03}: actionAa8,
	{sta11, evt04}: actionAa8,
	{sta11, evt06}: actionAa8,
	{sta11, evt10}: actionAa8,
	{sta11, evt12}: actionAa8,
	{sta11, evt13}: actionAr3,
	{sta11, evt15}: actionAa1,
	{sta11, evt16}: actionAa3,
	{sta11, evt17}: actionAa4,
	{sta11, evt19}: actionAa8,
	{sta12, evt03}: actionAa8,
	{sta12, evt04}: actionAa8,
	{sta12, evt06}: actionAa8,
	{sta12, evt10}: actionAa8,
	{sta12, evt12}: actionAa8,
	{sta12, evt13}: actionAa8,
	{sta12, evt14}: actionAr4,
	{sta12, evt15}: actionAa1,
	{sta12, evt16}: actionAa3,
	{sta12, evt17}: actionAa4,
	{sta12, evt19}: actionAa8,
	{sta13, evt03}: actionAa6,
	{sta13, evt04}: actionAa6,
	{sta13, evt06}: actionAa7,
	{sta13, evt07}: actionAa7,
	{sta13, evt08}: actionAa7,
	{sta13, evt09}: actionAa7,
	{sta13, evt10}: actionAa6,
	{sta13, evt11}: actionAa6,
	{sta13, evt12}: actionAa6,
	{sta13, evt13}: actionAa6,
	{sta13, evt14}: actionAa6,
	{sta13, evt15}: actionAa2,
	{sta13, evt16}: actionAa2,
	{sta13, evt17}: actionAr5,
	{sta13, evt18}: actionAa2,
	{sta13, evt19}: actionAa7,
}

func findAction(currentState stateType, event *stateEvent) *stateAction {
	if action, ok := stateTransitions[stateTransitionKey{currentState, event.event}]; ok {
		return action
	}
	return nil
}

// stateMachine is the per-TCP-connection upper-layer state.
type stateMachine struct {
	label  string // for logging only
	isUser bool   // true if service user, false if provider

	// userParams is set only for a requestor-side statemachine.
	userParams ServiceUserParams

	// providerParams is set only for an acceptor-side statemachine.
	providerParams ServiceProviderParams

	localAETitle  string
	remoteAETitle string

	// contextManager maps the one-byte contextID to the negotiated
	// <abstractSyntaxUID, transferSyntaxUID> pair, filled during the
	// association handshake.
	contextManager *contextManager

	// netCh receives PDU and network status events. Owned by
	// networkReaderThread.
	netCh chan stateEvent

	// errorCh reports send failures back into the event loop. Owned by the
	// statemachine.
	errorCh chan stateEvent

	// downcallCh receives commands from the upper layer. Owned by the upper
	// layer.
	downcallCh chan stateEvent

	// upcallCh sends indications to the upper layer. Owned by the
	// statemachine and closed when the connection dies.
	upcallCh chan upcallEvent

	// timerCh fires ARTIM expirations.
	timerCh chan stateEvent

	// artimDuration is the ARTIM (association reject/release) timeout.
	artimDuration time.Duration

	conn          net.Conn
	currentState  stateType
	upcallsClosed bool

	// finalErr records the first fatal condition, reported to the upper
	// layer after the event loop exits.
	finalErr error

	// commandAssembler reassembles DIMSE messages from P-DATA-TF fragments.
	commandAssembler dimse.CommandAssembler
}

func (sm *stateMachine) setFinalErr(err error) {
	if sm.finalErr == nil {
		sm.finalErr = err
	}
}

func (sm *stateMachine) closeUpcalls() {
	if !sm.upcallsClosed {
		sm.upcallsClosed = true
		close(sm.upcallCh)
	}
}

func (sm *stateMachine) closeConnection() {
	sm.closeUpcalls()
	dicomlog.Vprintf(1, "dicom.stateMachine(%s): Closing connection %v", sm.label, sm.conn)
	if sm.conn != nil {
		sm.conn.Close()
	}
}

func sendPDU(sm *stateMachine, v pdu.PDU) {
	doassert(sm.conn != nil)
	data, err := pdu.EncodePDU(v)
	if err != nil {
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): Failed to encode: %v; closing connection %v", sm.label, err, sm.conn)
		sm.setFinalErr(fmt.Errorf("%w: %v", ErrProtocol, err))
		sm.conn.Close()
		sm.errorCh <- stateEvent{event: evt17, err: err}
		return
	}
	n, err := sm.conn.Write(data)
	if n != len(data) || err != nil {
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): Failed to write %d bytes (wrote %d): %v; closing connection %v",
			sm.label, len(data), n, err, sm.conn)
		sm.setFinalErr(fmt.Errorf("%w: %v", ErrAssociationAborted, err))
		sm.conn.Close()
		sm.errorCh <- stateEvent{event: evt17, err: err}
		return
	}
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): sendPDU: %v", sm.label, v.String())
}

func (sm *stateMachine) startTimer() {
	ch := make(chan stateEvent, 1)
	sm.timerCh = ch
	currentState := sm.currentState
	time.AfterFunc(sm.artimDuration, func() {
		ch <- stateEvent{event: evt18, debug: &stateEventDebugInfo{currentState}}
		close(ch)
	})
}

func (sm *stateMachine) restartTimer() {
	sm.startTimer()
}

func (sm *stateMachine) stopTimer() {
	sm.timerCh = make(chan stateEvent, 1)
}

func networkReaderThread(ch chan stateEvent, conn net.Conn, maxPDUSize int, smName string) {
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): Starting network reader, maxPDU %d", smName, maxPDUSize)
	for {
		v, err := pdu.ReadPDU(conn, maxPDUSize)
		if err != nil {
			if err == io.EOF {
				ch <- stateEvent{event: evt17, pdu: nil, err: nil}
			} else {
				dicomlog.Vprintf(0, "dicom.stateMachine(%s): Failed to read PDU: %v", smName, err)
				ch <- stateEvent{event: evt19, pdu: nil, err: err}
			}
			close(ch)
			break
		}
		doassert(v != nil)
		dicomlog.Vprintf(2, "dicom.stateMachine(%s): read PDU: %v", smName, v.String())
		switch n := v.(type) {
		case *pdu.AAssociateRQ:
			ch <- stateEvent{event: evt06, pdu: n, err: nil}
		case *pdu.AAssociateAC:
			ch <- stateEvent{event: evt03, pdu: n, err: nil}
		case *pdu.AAssociateRj:
			dicomlog.Vprintf(0, "dicom.stateMachine(%s): Association rejected: %v", smName, v.String())
			ch <- stateEvent{event: evt04, pdu: n, err: nil}
		case *pdu.PDataTf:
			ch <- stateEvent{event: evt10, pdu: n, err: nil}
		case *pdu.AReleaseRq:
			ch <- stateEvent{event: evt12, pdu: n, err: nil}
		case *pdu.AReleaseRp:
			ch <- stateEvent{event: evt13, pdu: n, err: nil}
		case *pdu.AAbort:
			dicomlog.Vprintf(0, "dicom.stateMachine(%s): Association aborted: %v", smName, v.String())
			ch <- stateEvent{event: evt16, pdu: n, err: nil}
		default:
			err := fmt.Errorf("dicom.stateMachine(%s): unknown PDU type: %v", smName, v.String())
			dicomlog.Vprintf(0, "%v", err)
			ch <- stateEvent{event: evt19, pdu: v, err: err}
		}
	}
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): Exiting network reader", smName)
}

func (sm *stateMachine) getNextEvent() stateEvent {
	var ok bool
	var event stateEvent
	for event.event == 0 {
		select {
		case event, ok = <-sm.netCh:
			if !ok {
				sm.netCh = nil
			}
		case event = <-sm.errorCh:
			// this channel never closes
		case event, ok = <-sm.timerCh:
			if !ok {
				sm.timerCh = nil
			}
		case event, ok = <-sm.downcallCh:
			if !ok {
				sm.downcallCh = nil
			}
		}
	}
	switch event.event {
	case evt02:
		doassert(event.conn != nil)
		sm.conn = event.conn
	case evt17:
		sm.closeUpcalls()
		sm.conn = nil
	}
	return event
}

func (sm *stateMachine) runOneStep() {
	event := sm.getNextEvent()
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): Current state: %v, Event %v", sm.label, sm.currentState.String(), event)
	if event.event == evt18 {
		sm.setFinalErr(fmt.Errorf("%w: ARTIM timer expired in %v", ErrTimeout, sm.currentState.String()))
	}
	action := findAction(sm.currentState, &event)
	if action == nil {
		dicomlog.Vprintf(0, "dicom.stateMachine(%s): No action found for state %v, event %v",
			sm.label, sm.currentState.String(), event.String())
		action = actionAa2 // force connection abortion
	}
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): Running action %v", sm.label, action)
	sm.currentState = action.Callback(sm, event)
	dicomlog.Vprintf(2, "dicom.stateMachine(%s): Next state: %v", sm.label, sm.currentState.String())
}

func runStateMachineForServiceUser(
	params ServiceUserParams,
	upcallCh chan upcallEvent,
	downcallCh chan stateEvent,
	onClosed func(error),
	label string) {
	doassert(params.CallingAETitle != "")
	sm := &stateMachine{
		label:          label,
		isUser:         true,
		contextManager: newContextManager(label),
		userParams:     params,
		localAETitle:   params.CallingAETitle,
		remoteAETitle:  params.CalledAETitle,
		netCh:          make(chan stateEvent, 128),
		errorCh:        make(chan stateEvent, 128),
		downcallCh:     downcallCh,
		upcallCh:       upcallCh,
		artimDuration:  params.artimOrDefault(),
	}
	event := stateEvent{event: evt01}
	action := findAction(sta01, &event)
	sm.currentState = action.Callback(sm, event)
	for sm.currentState != sta01 {
		sm.runOneStep()
	}
	sm.closeUpcalls()
	if onClosed != nil {
		onClosed(sm.finalErr)
	}
	dicomlog.Vprintf(1, "dicom.stateMachine(%s): statemachine finished", sm.label)
}

func runStateMachineForServiceProvider(
	conn net.Conn,
	params ServiceProviderParams,
	upcallCh chan upcallEvent,
	downcallCh chan stateEvent,
	onClosed func(error),
	label string) {
	sm := &stateMachine{
		label:          label,
		isUser:         false,
		contextManager: newContextManager(label),
		providerParams: params,
		conn:           conn,
		netCh:          make(chan stateEvent, 128),
		errorCh:        make(chan stateEvent, 128),
		downcallCh:     downcallCh,
		upcallCh:       upcallCh,
		artimDuration:  params.artimOrDefault(),
	}
	event := stateEvent{event: evt05, conn: conn}
	action := findAction(sta01, &event)
	sm.currentState = action.Callback(sm, event)
	for sm.currentState != sta01 {
		sm.runOneStep()
	}
	sm.closeUpcalls()
	if onClosed != nil {
		onClosed(sm.finalErr)
	}
	dicomlog.Vprintf(1, "dicom.stateMachine(%s): statemachine finished", sm.label)
}
