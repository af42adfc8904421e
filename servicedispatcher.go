package dicomnet

// DIMSE multiplexer. One serviceDispatcher runs per association, routing
// inbound messages to the per-command state identified by the message ID and
// serializing outbound messages through the statemachine's downcall channel
// (the single writer for the connection).

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/go-dicom/dicomlog"
	"github.com/openpacs/go-dicomnet/dimse"
)

type serviceCallback func(msg dimse.Message, data []byte, cs *serviceCommandState)

type serviceDispatcher struct {
	label      string
	downcallCh chan stateEvent // for sending PDUs to the statemachine

	mu   sync.Mutex
	cond *sync.Cond // broadcast whenever activeCommands shrinks

	// activeCommands is the response map: message ID -> continuation.
	// Guarded by mu.
	activeCommands map[dimse.MessageID]*serviceCommandState

	// callbacks handles inbound requests (as opposed to responses), keyed
	// by command field. Used for the C-STORE requests a C-GET triggers on
	// the same association. Guarded by mu.
	callbacks map[uint16]serviceCallback

	// lastMessageID is the most recently allocated ID. IDs increase
	// monotonically and wrap at 0xffff, skipping IDs still in flight.
	lastMessageID dimse.MessageID

	closed bool // guarded by mu
}

func newServiceDispatcher(label string) *serviceDispatcher {
	disp := &serviceDispatcher{
		label:          label,
		downcallCh:     make(chan stateEvent, 128),
		activeCommands: make(map[dimse.MessageID]*serviceCommandState),
		callbacks:      make(map[uint16]serviceCallback),
	}
	disp.cond = sync.NewCond(&disp.mu)
	return disp
}

// serviceCommandState is the per-command-invocation state: one outstanding
// request (SCU side) or one request being served (SCP side).
type serviceCommandState struct {
	disp      *serviceDispatcher
	messageID dimse.MessageID
	cm        *contextManager
	context   contextManagerEntry

	// upcallCh streams responses (or request continuations) for this
	// message ID, in arrival order.
	upcallCh chan upcallEvent

	// cancelled is set when a C-CANCEL-RQ arrives for this message ID.
	// Server-side iteration observes it cooperatively between responses.
	cancelled atomic.Bool
}

// isCancelled reports whether the peer asked to cancel this command.
func (cs *serviceCommandState) isCancelled() bool {
	return cs.cancelled.Load()
}

// sendMessage hands one DIMSE message to the statemachine for transmission
// on this command's presentation context.
func (cs *serviceCommandState) sendMessage(msg dimse.Message, data []byte) {
	if s := msg.GetStatus(); s != nil && s.Status != dimse.StatusSuccess && !s.Status.IsPending() {
		dicomlog.Vprintf(0, "dicom.serviceDispatcher(%s): Sending DIMSE error: %v", cs.disp.label, msg)
	}
	cs.disp.downcallCh <- stateEvent{
		event: evt09,
		dimsePayload: &stateEventDIMSEPayload{
			contextID: cs.context.contextID,
			command:   msg,
			data:      data,
		},
	}
}

// sendCancel transmits a C-CANCEL-RQ for this command's message ID. Pending
// responses already in flight may still arrive; the final response follows
// with status 0xFE00.
func (cs *serviceCommandState) sendCancel() {
	cs.sendMessage(&dimse.CCancelRq{
		MessageIDBeingRespondedTo: cs.messageID,
		CommandDataSetType:        dimse.CommandDataSetTypeNull,
	}, nil)
}

// newCommand allocates a fresh message ID and registers its continuation.
func (disp *serviceDispatcher) newCommand(cm *contextManager, context contextManagerEntry) (*serviceCommandState, error) {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.closed {
		return nil, ErrAssociationAborted
	}
	id := disp.lastMessageID
	for {
		id++
		if id == 0 { // wrapped; zero is never used
			id = 1
		}
		if _, inFlight := disp.activeCommands[id]; !inFlight {
			break
		}
		if id == disp.lastMessageID {
			return nil, fmt.Errorf("%w: all 65535 message IDs in flight", ErrProtocol)
		}
	}
	disp.lastMessageID = id
	cs := &serviceCommandState{
		disp:      disp,
		messageID: id,
		cm:        cm,
		context:   context,
		upcallCh:  make(chan upcallEvent, 128),
	}
	disp.activeCommands[id] = cs
	dicomlog.Vprintf(1, "dicom.serviceDispatcher(%s): Start command %d", disp.label, id)
	return cs, nil
}

// findOrCreateCommand registers a continuation under a peer-chosen message
// ID. Used on the receiving side of a request.
func (disp *serviceDispatcher) findOrCreateCommand(
	messageID dimse.MessageID,
	cm *contextManager,
	context contextManagerEntry) (*serviceCommandState, bool) {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if cs, ok := disp.activeCommands[messageID]; ok {
		return cs, true
	}
	cs := &serviceCommandState{
		disp:      disp,
		messageID: messageID,
		cm:        cm,
		context:   context,
		upcallCh:  make(chan upcallEvent, 128),
	}
	disp.activeCommands[messageID] = cs
	dicomlog.Vprintf(1, "dicom.serviceDispatcher(%s): Start provider command %d", disp.label, messageID)
	return cs, false
}

func (disp *serviceDispatcher) deleteCommand(cs *serviceCommandState) {
	disp.mu.Lock()
	if _, ok := disp.activeCommands[cs.messageID]; ok {
		delete(disp.activeCommands, cs.messageID)
		dicomlog.Vprintf(1, "dicom.serviceDispatcher(%s): Finish command %d", disp.label, cs.messageID)
	}
	disp.cond.Broadcast()
	disp.mu.Unlock()
}

func (disp *serviceDispatcher) registerCallback(commandField uint16, cb serviceCallback) {
	disp.mu.Lock()
	disp.callbacks[commandField] = cb
	disp.mu.Unlock()
}

func (disp *serviceDispatcher) unregisterCallback(commandField uint16) {
	disp.mu.Lock()
	delete(disp.callbacks, commandField)
	disp.mu.Unlock()
}

// outstanding returns the number of commands awaiting their terminal
// response.
func (disp *serviceDispatcher) outstanding() int {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	return len(disp.activeCommands)
}

// waitForOutstandingRSP blocks until the response map drains. The cancelled
// predicate is re-checked every time the map shrinks or interruptWaiters
// runs; when it reports true the wait completes immediately with
// ErrCancelled.
func (disp *serviceDispatcher) waitForOutstandingRSP(cancelled func() bool) error {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	for len(disp.activeCommands) > 0 {
		if cancelled != nil && cancelled() {
			return ErrCancelled
		}
		if disp.closed {
			return ErrAssociationAborted
		}
		disp.cond.Wait()
	}
	return nil
}

// interruptWaiters wakes any waitForOutstandingRSP caller so it can observe
// a freshly set cancellation flag.
func (disp *serviceDispatcher) interruptWaiters() {
	disp.mu.Lock()
	disp.cond.Broadcast()
	disp.mu.Unlock()
}

// handleEvent routes one inbound DIMSE message. Responses go to the
// continuation registered for their MessageIDBeingRespondedTo; requests go
// to the callback registered for their command field.
func (disp *serviceDispatcher) handleEvent(event upcallEvent) {
	doassert(event.eventType == upcallEventData)
	doassert(event.command != nil)
	context, err := event.cm.lookupByContextID(event.contextID)
	if err != nil {
		dicomlog.Vprintf(0, "dicom.serviceDispatcher(%s): Invalid context ID %d: %v", disp.label, event.contextID, err)
		disp.downcallCh <- stateEvent{event: evt19, err: err}
		return
	}
	messageID := event.command.GetMessageID()
	if cancel, ok := event.command.(*dimse.CCancelRq); ok {
		// Cancellation is a flag, not a message stream: mark the target
		// command and let its loop observe the flag at the next response
		// boundary.
		disp.mu.Lock()
		cs, ok := disp.activeCommands[cancel.MessageIDBeingRespondedTo]
		disp.mu.Unlock()
		if !ok {
			dicomlog.Vprintf(1, "dicom.serviceDispatcher(%s): C-CANCEL for unknown message ID %d",
				disp.label, cancel.MessageIDBeingRespondedTo)
			return
		}
		cs.cancelled.Store(true)
		return
	}
	if event.command.GetStatus() != nil {
		// A response. Deliver to the outstanding command, in arrival order.
		// The send happens under mu so it cannot race close().
		disp.mu.Lock()
		if disp.closed {
			disp.mu.Unlock()
			return
		}
		cs, ok := disp.activeCommands[messageID]
		if ok {
			cs.upcallCh <- event
		}
		disp.mu.Unlock()
		if !ok {
			dicomlog.Vprintf(0, "dicom.serviceDispatcher(%s): Dropping response for unknown message ID %d: %v",
				disp.label, messageID, event.command)
		}
		return
	}
	disp.mu.Lock()
	cb, ok := disp.callbacks[event.command.CommandField()]
	disp.mu.Unlock()
	if !ok {
		dicomlog.Vprintf(0, "dicom.serviceDispatcher(%s): No handler for inbound request %v", disp.label, event.command)
		return
	}
	cs, found := disp.findOrCreateCommand(messageID, event.cm, context)
	if found {
		// Continuation of a request already being served.
		cs.upcallCh <- event
		return
	}
	go func() {
		defer disp.deleteCommand(cs)
		cb(event.command, event.data, cs)
	}()
}

// close fails every outstanding command with a closed channel and rejects
// new ones. Called when the association dies.
func (disp *serviceDispatcher) close() {
	disp.mu.Lock()
	if disp.closed {
		disp.mu.Unlock()
		return
	}
	disp.closed = true
	for _, cs := range disp.activeCommands {
		close(cs.upcallCh)
	}
	disp.cond.Broadcast()
	disp.mu.Unlock()
}
