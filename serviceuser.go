package dicomnet

// ServiceUser implements the requestor (SCU) side of the DICOM network
// protocol.

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grailbio/go-dicom/dicomio"
	"github.com/grailbio/go-dicom/dicomlog"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/suyashkumar/dicom"
)

type serviceUserStatus int

const (
	serviceUserInitial serviceUserStatus = iota
	serviceUserAssociationActive
	serviceUserClosed
)

// ServiceUser implements the client side of the DICOM network protocol.
//
//	params, err := dicomnet.NewServiceUserParams(
//	    "ARCHIVE", "SCANNER", sopclass.VerificationClasses, nil)
//	su := dicomnet.NewServiceUser(params)
//	su.Connect("10.1.2.3:11112")
//	err = su.CEcho()
//	su.Release()
//
// Multiple DIMSE commands may be outstanding concurrently on one
// ServiceUser; responses are routed back by message ID.
type ServiceUser struct {
	label    string
	upcallCh chan upcallEvent

	mu   *sync.Mutex
	cond *sync.Cond // broadcast when status changes

	disp *serviceDispatcher

	// Guarded by mu.
	status     serviceUserStatus
	cm         *contextManager // set once the handshake completes
	connectErr error           // fatal error reported by the statemachine
}

// ServiceUserParams configures one association request.
type ServiceUserParams struct {
	CalledAETitle  string // must be nonempty
	CallingAETitle string // must be nonempty

	// SOPClasses are offered once per class, each with TransferSyntaxes.
	SOPClasses       []sopclass.SOPUID
	TransferSyntaxes []string

	// ContextOffers are additional explicit (SOP class, transfer syntaxes)
	// rows, used when different classes need different syntax lists (e.g. a
	// pre-scanned C-STORE manifest).
	ContextOffers []ContextOffer

	// RoleSelections requests SCU/SCP role reversal per SOP class. A C-GET
	// requester lists every storage class here with SCP=true.
	RoleSelections []RoleSelection

	// ExtendedNegotiations are carried verbatim into the user information
	// item.
	ExtendedNegotiations []ExtendedNegotiation

	// SOPClassExtendedNegotiations are carried verbatim; see
	// NewQueryParams for the query-service rows.
	SOPClassExtendedNegotiations []SOPClassExtendedNegotiation

	// MaxPDUSize advertises the largest PDU this side accepts. Zero means
	// DefaultMaxPDUSize.
	MaxPDUSize int

	MaxOpsInvoked   uint16
	MaxOpsPerformed uint16

	Timeouts TimeoutConfig
}

func (p ServiceUserParams) artimOrDefault() time.Duration {
	if p.Timeouts.Release != 0 {
		return p.Timeouts.Release
	}
	return defaultARTIMDuration
}

// offers flattens SOPClasses x TransferSyntaxes plus the explicit rows.
func (p ServiceUserParams) offers() []ContextOffer {
	var offers []ContextOffer
	for _, sop := range p.SOPClasses {
		offers = append(offers, ContextOffer{
			AbstractSyntaxUID:  sop.UID,
			TransferSyntaxUIDs: p.TransferSyntaxes,
		})
	}
	return append(offers, p.ContextOffers...)
}

// NewServiceUserParams creates a ServiceUserParams. requiredServices is the
// list of abstract syntaxes (SOP classes) the client wishes to use, usually
// one of the lists defined in the sopclass package. If transferSyntaxUIDs is
// empty, the standard uncompressed syntaxes are offered.
func NewServiceUserParams(
	calledAETitle string,
	callingAETitle string,
	requiredServices []sopclass.SOPUID,
	transferSyntaxUIDs []string) (ServiceUserParams, error) {
	if calledAETitle == "" {
		return ServiceUserParams{}, fmt.Errorf("NewServiceUserParams: empty calledAETitle")
	}
	if callingAETitle == "" {
		return ServiceUserParams{}, fmt.Errorf("NewServiceUserParams: empty callingAETitle")
	}
	if len(transferSyntaxUIDs) == 0 {
		transferSyntaxUIDs = dicomio.StandardTransferSyntaxes
	} else {
		for i, uid := range transferSyntaxUIDs {
			canonical, err := dicomio.CanonicalTransferSyntaxUID(uid)
			if err != nil {
				return ServiceUserParams{}, err
			}
			transferSyntaxUIDs[i] = canonical
		}
	}
	return ServiceUserParams{
		CalledAETitle:    calledAETitle,
		CallingAETitle:   callingAETitle,
		SOPClasses:       requiredServices,
		TransferSyntaxes: transferSyntaxUIDs,
		MaxPDUSize:       DefaultMaxPDUSize,
	}, nil
}

// NewQueryParams builds association parameters for C-FIND against the
// given information models. Worklist-style models carry no
// QueryRetrieveLevel; relational queries and combined date-time matching
// are enabled for them through SOP-class extended negotiation.
func NewQueryParams(calledAETitle, callingAETitle string,
	models []sopclass.InformationModel, transferSyntaxUIDs []string) (ServiceUserParams, error) {
	var classes []sopclass.SOPUID
	var extended []SOPClassExtendedNegotiation
	for _, model := range models {
		if model.Find == "" {
			return ServiceUserParams{}, fmt.Errorf("information model %s does not define a C-FIND SOP class", model.Name)
		}
		classes = append(classes, sopclass.SOPUID{Name: model.Name, UID: model.Find})
		if model.Worklist {
			extended = append(extended, SOPClassExtendedNegotiation{
				SOPClassUID: model.Find,
				// relational queries, combined date-time matching
				Info: []byte{1, 1},
			})
		}
	}
	params, err := NewServiceUserParams(calledAETitle, callingAETitle, classes, transferSyntaxUIDs)
	if err != nil {
		return ServiceUserParams{}, err
	}
	params.SOPClassExtendedNegotiations = extended
	return params, nil
}

// NewServiceUser creates a new ServiceUser. The caller must call either
// Connect or SetConn before issuing any DIMSE command.
func NewServiceUser(params ServiceUserParams) *ServiceUser {
	if params.MaxPDUSize == 0 {
		params.MaxPDUSize = DefaultMaxPDUSize
	}
	mu := &sync.Mutex{}
	label := fmt.Sprintf("scu(%s->%s)", params.CallingAETitle, params.CalledAETitle)
	su := &ServiceUser{
		label:    label,
		upcallCh: make(chan upcallEvent, 128),
		disp:     newServiceDispatcher(label),
		mu:       mu,
		cond:     sync.NewCond(mu),
		status:   serviceUserInitial,
	}
	go runStateMachineForServiceUser(params, su.upcallCh, su.disp.downcallCh, su.onClosed, label)
	go func() {
		for event := range su.upcallCh {
			if event.eventType == upcallEventHandshakeCompleted {
				su.mu.Lock()
				doassert(su.cm == nil)
				su.status = serviceUserAssociationActive
				su.cm = event.cm
				su.cond.Broadcast()
				su.mu.Unlock()
				continue
			}
			su.disp.handleEvent(event)
		}
		dicomlog.Vprintf(1, "dicom.serviceUser(%s): dispatcher finished", su.label)
		su.mu.Lock()
		su.status = serviceUserClosed
		su.cond.Broadcast()
		su.mu.Unlock()
		su.disp.close()
	}()
	return su
}

func (su *ServiceUser) onClosed(err error) {
	su.mu.Lock()
	if err != nil && su.connectErr == nil {
		su.connectErr = err
	}
	su.mu.Unlock()
}

func (su *ServiceUser) waitUntilReady() error {
	su.mu.Lock()
	defer su.mu.Unlock()
	for su.status <= serviceUserInitial {
		su.cond.Wait()
	}
	if su.status != serviceUserAssociationActive {
		if su.connectErr != nil {
			return su.connectErr
		}
		return ErrConnectFailed
	}
	return nil
}

// Connect dials the server at "host:port". Either Connect or SetConn must
// be called before any DIMSE command.
func (su *ServiceUser) Connect(serverAddr string) {
	su.ConnectWithDialer(serverAddr, &net.Dialer{Timeout: TimeoutConfig{}.connectOrDefault()})
}

// ConnectWithDialer dials through a caller-supplied dialer. TLS transports
// plug in here: pass a dialer whose Dial performs the handshake.
func (su *ServiceUser) ConnectWithDialer(serverAddr string, dialer interface {
	Dial(network, addr string) (net.Conn, error)
}) {
	conn, err := dialer.Dial("tcp", serverAddr)
	if err != nil {
		dicomlog.Vprintf(0, "dicom.serviceUser(%s): Connect(%s): %v", su.label, serverAddr, err)
		su.mu.Lock()
		su.connectErr = fmt.Errorf("%w: %v", ErrConnectFailed, err)
		su.mu.Unlock()
		su.disp.downcallCh <- stateEvent{event: evt17, pdu: nil, err: err}
		return
	}
	su.disp.downcallCh <- stateEvent{event: evt02, pdu: nil, err: nil, conn: conn}
}

// SetConn hands an established network connection to the association. Used
// with pre-built transports.
func (su *ServiceUser) SetConn(conn net.Conn) {
	su.disp.downcallCh <- stateEvent{event: evt02, pdu: nil, err: nil, conn: conn}
}

// PresentationContext is the caller-visible view of one negotiated context.
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax string
	SCURole        bool
	SCPRole        bool
}

// AcceptedContexts returns a snapshot of the accepted presentation
// contexts. Valid only after the handshake completed.
func (su *ServiceUser) AcceptedContexts() ([]PresentationContext, error) {
	if err := su.waitUntilReady(); err != nil {
		return nil, err
	}
	var out []PresentationContext
	for _, e := range su.cm.acceptedContexts() {
		out = append(out, PresentationContext{
			ID:             e.contextID,
			AbstractSyntax: e.abstractSyntaxUID,
			TransferSyntax: e.transferSyntaxUID,
			SCURole:        e.scuRole,
			SCPRole:        e.scpRole,
		})
	}
	return out, nil
}

// SelectTransferSyntax returns the negotiated transfer syntax to use for an
// object of the given SOP class stored in sourceTS: sourceTS itself when
// accepted, otherwise the first accepted syntax for the class. Fails with
// ErrNoAcceptedContext when the class has no acceptance.
func (su *ServiceUser) SelectTransferSyntax(sopClassUID, sourceTS string) (string, error) {
	if err := su.waitUntilReady(); err != nil {
		return "", err
	}
	e, err := su.cm.selectTransferSyntax(sopClassUID, sourceTS)
	if err != nil {
		return "", err
	}
	return e.transferSyntaxUID, nil
}

// CEcho sends a C-ECHO request to the remote AE. Returns nil iff the remote
// AE responds with a success status.
func (su *ServiceUser) CEcho() error {
	if err := su.waitUntilReady(); err != nil {
		return err
	}
	context, err := su.cm.lookupByAbstractSyntaxUID(sopclass.Verification)
	if err != nil {
		return err
	}
	cs, err := su.disp.newCommand(su.cm, context)
	if err != nil {
		return err
	}
	defer su.disp.deleteCommand(cs)
	cs.sendMessage(&dimse.CEchoRq{
		MessageID:          cs.messageID,
		CommandDataSetType: dimse.CommandDataSetTypeNull,
	}, nil)
	event, ok := <-cs.upcallCh
	if !ok {
		return fmt.Errorf("%w: connection closed while waiting for C-ECHO response", ErrAssociationAborted)
	}
	resp, ok := event.command.(*dimse.CEchoRsp)
	if !ok {
		return fmt.Errorf("%w: invalid response for C-ECHO: %v", ErrProtocol, event.command)
	}
	if resp.Status.Status != dimse.StatusSuccess {
		return &RemoteDIMSEError{Status: resp.Status, Command: resp}
	}
	return nil
}

// CStoreOptions carries the optional fields of a C-STORE request.
type CStoreOptions struct {
	Priority uint16
	// TransferSyntaxUID is the encoding of Data. The context is chosen with
	// the select-transfer-syntax rule; empty means any accepted context for
	// the SOP class.
	TransferSyntaxUID string
	// Move-originator fields, set when the store happens on behalf of a
	// C-MOVE.
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID dimse.MessageID
}

// CStore transfers one composite object. data is the serialized dataset
// (without file meta) in the negotiated transfer syntax. It blocks until
// the peer's final response and returns the response status: Status 0 means
// success; warning statuses are returned for the caller to classify.
func (su *ServiceUser) CStore(sopClassUID, sopInstanceUID string, data []byte, opts CStoreOptions) (dimse.Status, error) {
	if err := su.waitUntilReady(); err != nil {
		return dimse.Status{}, err
	}
	context, err := su.cm.selectTransferSyntax(sopClassUID, opts.TransferSyntaxUID)
	if err != nil {
		return dimse.Status{}, err
	}
	cs, err := su.disp.newCommand(su.cm, context)
	if err != nil {
		return dimse.Status{}, err
	}
	defer su.disp.deleteCommand(cs)
	return runCStoreOnAssociation(cs, sopClassUID, sopInstanceUID, data, opts)
}

// CFindOptions tunes a C-FIND invocation.
type CFindOptions struct {
	Priority uint16
	// CancelAfter, when nonzero, issues a C-CANCEL-RQ synchronously after
	// the n-th pending response. The operation then terminates with status
	// 0xFE00.
	CancelAfter int
}

// CFindResult is one streamed C-FIND answer. Exactly one of Err or Elements
// is set; the final (non-pending) response yields a result only on error.
type CFindResult struct {
	Err      error
	Elements []*dicom.Element // one matched dataset
}

// CFind issues a C-FIND and streams the matches. The QueryRetrieveLevel
// element is not auto-derived; pass it in filter for hierarchical models.
// Worklist-style models (model.Worklist) carry no level and implicitly
// enable relational and datetime matching. The caller must drain the
// channel.
func (su *ServiceUser) CFind(model sopclass.InformationModel, filter []*dicom.Element, opts CFindOptions) chan CFindResult {
	ch := make(chan CFindResult, 128)
	if err := su.waitUntilReady(); err != nil {
		ch <- CFindResult{Err: err}
		close(ch)
		return ch
	}
	context, err := su.cm.lookupByAbstractSyntaxUID(model.Find)
	if err != nil {
		ch <- CFindResult{Err: err}
		close(ch)
		return ch
	}
	payload, err := writeElementsToBytes(filter, context.transferSyntaxUID)
	if err != nil {
		ch <- CFindResult{Err: err}
		close(ch)
		return ch
	}
	cs, err := su.disp.newCommand(su.cm, context)
	if err != nil {
		ch <- CFindResult{Err: err}
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		defer su.disp.deleteCommand(cs)
		cs.sendMessage(&dimse.CFindRq{
			AffectedSOPClassUID: context.abstractSyntaxUID,
			MessageID:           cs.messageID,
			Priority:            opts.Priority,
			CommandDataSetType:  dimse.CommandDataSetTypeNonNull,
		}, payload)
		pendingSeen := 0
		cancelIssued := false
		for {
			event, ok := <-cs.upcallCh
			if !ok {
				ch <- CFindResult{Err: fmt.Errorf("%w: connection closed while waiting for C-FIND response", ErrAssociationAborted)}
				return
			}
			resp, ok := event.command.(*dimse.CFindRsp)
			if !ok {
				ch <- CFindResult{Err: fmt.Errorf("%w: invalid response for C-FIND: %v", ErrProtocol, event.command)}
				return
			}
			if resp.Status.Status.IsPending() {
				elems, err := readElementsInBytes(event.data, context.transferSyntaxUID)
				if err != nil {
					dicomlog.Vprintf(0, "dicom.serviceUser(%s): Failed to decode C-FIND response: %v %v", su.label, resp.String(), err)
					ch <- CFindResult{Err: err}
				} else if !cancelIssued {
					// Matches after cancel are dropped.
					ch <- CFindResult{Elements: elems}
				}
				pendingSeen++
				if opts.CancelAfter > 0 && pendingSeen >= opts.CancelAfter && !cancelIssued {
					cs.sendCancel()
					cancelIssued = true
				}
				continue
			}
			switch resp.Status.Status {
			case dimse.StatusSuccess:
			case dimse.StatusCancel:
				if !cancelIssued {
					ch <- CFindResult{Err: ErrCancelled}
				}
			default:
				ch <- CFindResult{Err: &RemoteDIMSEError{Status: resp.Status, Command: resp}}
			}
			return
		}
	}()
	return ch
}

// CMoveOptions tunes a C-MOVE invocation.
type CMoveOptions struct {
	Priority    uint16
	CancelAfter int
	// ReleaseEager, combined with cancellation, returns as soon as the
	// C-CANCEL-RQ is issued without draining outstanding responses.
	ReleaseEager bool
}

// CMove asks the peer to transmit the matching objects to destinationAET
// through a separate association. Sub-operation counters from each pending
// response are lifted into st's progress handle; listeners run after every
// response and may cancel.
func (su *ServiceUser) CMove(model sopclass.InformationModel, destinationAET string,
	filter []*dicom.Element, st *progress.State, opts CMoveOptions) error {
	if model.Move == "" {
		return fmt.Errorf("information model %s does not define a C-MOVE SOP class", model.Name)
	}
	if err := su.waitUntilReady(); err != nil {
		return err
	}
	context, err := su.cm.lookupByAbstractSyntaxUID(model.Move)
	if err != nil {
		return err
	}
	payload, err := writeElementsToBytes(filter, context.transferSyntaxUID)
	if err != nil {
		return err
	}
	cs, err := su.disp.newCommand(su.cm, context)
	if err != nil {
		return err
	}
	defer su.disp.deleteCommand(cs)
	cs.sendMessage(&dimse.CMoveRq{
		AffectedSOPClassUID: context.abstractSyntaxUID,
		MessageID:           cs.messageID,
		Priority:            opts.Priority,
		MoveDestination:     destinationAET,
		CommandDataSetType:  dimse.CommandDataSetTypeNonNull,
	}, payload)
	pendingSeen := 0
	cancelIssued := false
	for {
		event, ok := <-cs.upcallCh
		if !ok {
			return fmt.Errorf("%w: connection closed while waiting for C-MOVE response", ErrAssociationAborted)
		}
		resp, ok := event.command.(*dimse.CMoveRsp)
		if !ok {
			return fmt.Errorf("%w: invalid response for C-MOVE: %v", ErrProtocol, event.command)
		}
		st.Progress().SetCounts(resp.Counts())
		st.Progress().Notify()
		if resp.Status.Status.IsPending() {
			pendingSeen++
			shouldCancel := st.Progress().IsCancelled() ||
				(opts.CancelAfter > 0 && pendingSeen >= opts.CancelAfter)
			if shouldCancel && !cancelIssued {
				cs.sendCancel()
				cancelIssued = true
				if opts.ReleaseEager {
					st.SetStatus(int(dimse.StatusCancel))
					return ErrCancelled
				}
			}
			continue
		}
		st.SetStatus(int(resp.Status.Status))
		st.SetMessage(resp.Status.ErrorComment)
		switch resp.Status.Status {
		case dimse.StatusSuccess:
			return nil
		case dimse.StatusCancel:
			return ErrCancelled
		default:
			return &RemoteDIMSEError{Status: resp.Status, Command: resp}
		}
	}
}

// CGetCallback receives one object pushed back by the peer during a C-GET.
// It must return the C-STORE response status for the object: 0 once the
// data has been stably written.
type CGetCallback func(transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status

// CGetOptions tunes a C-GET invocation.
type CGetOptions struct {
	Priority    uint16
	CancelAfter int
}

// CGet retrieves the matching objects through this same association: the
// peer issues C-STORE requests back on it, delivered to cb. The association
// must have been opened with SCP role selection for the storage classes
// (ServiceUserParams.RoleSelections). An object already being received is
// always written
// to completion before a cancellation flag is honored.
func (su *ServiceUser) CGet(model sopclass.InformationModel, filter []*dicom.Element,
	st *progress.State, cb CGetCallback, opts CGetOptions) error {
	if model.Get == "" {
		return fmt.Errorf("information model %s does not define a C-GET SOP class", model.Name)
	}
	if err := su.waitUntilReady(); err != nil {
		return err
	}
	context, err := su.cm.lookupByAbstractSyntaxUID(model.Get)
	if err != nil {
		return err
	}
	payload, err := writeElementsToBytes(filter, context.transferSyntaxUID)
	if err != nil {
		return err
	}
	cs, err := su.disp.newCommand(su.cm, context)
	if err != nil {
		return err
	}
	defer su.disp.deleteCommand(cs)

	su.disp.registerCallback(dimse.CommandFieldCStoreRq,
		func(msg dimse.Message, data []byte, subCs *serviceCommandState) {
			c := msg.(*dimse.CStoreRq)
			status := cb(subCs.context.transferSyntaxUID, c.AffectedSOPClassUID, c.AffectedSOPInstanceUID, data)
			subCs.sendMessage(&dimse.CStoreRsp{
				AffectedSOPClassUID:       c.AffectedSOPClassUID,
				MessageIDBeingRespondedTo: c.MessageID,
				CommandDataSetType:        dimse.CommandDataSetTypeNull,
				AffectedSOPInstanceUID:    c.AffectedSOPInstanceUID,
				Status:                    status,
			}, nil)
		})
	defer su.disp.unregisterCallback(dimse.CommandFieldCStoreRq)

	cs.sendMessage(&dimse.CGetRq{
		AffectedSOPClassUID: context.abstractSyntaxUID,
		MessageID:           cs.messageID,
		Priority:            opts.Priority,
		CommandDataSetType:  dimse.CommandDataSetTypeNonNull,
	}, payload)
	pendingSeen := 0
	cancelIssued := false
	for {
		event, ok := <-cs.upcallCh
		if !ok {
			return fmt.Errorf("%w: connection closed while waiting for C-GET response", ErrAssociationAborted)
		}
		resp, ok := event.command.(*dimse.CGetRsp)
		if !ok {
			return fmt.Errorf("%w: invalid response for C-GET: %v", ErrProtocol, event.command)
		}
		st.Progress().SetCounts(resp.Counts())
		st.Progress().Notify()
		if resp.Status.Status.IsPending() {
			pendingSeen++
			shouldCancel := st.Progress().IsCancelled() ||
				(opts.CancelAfter > 0 && pendingSeen >= opts.CancelAfter)
			if shouldCancel && !cancelIssued {
				cs.sendCancel()
				cancelIssued = true
			}
			continue
		}
		st.SetStatus(int(resp.Status.Status))
		st.SetMessage(resp.Status.ErrorComment)
		switch resp.Status.Status {
		case dimse.StatusSuccess:
			return nil
		case dimse.StatusCancel:
			return ErrCancelled
		default:
			return &RemoteDIMSEError{Status: resp.Status, Command: resp}
		}
	}
}

// WaitForOutstanding blocks until every outstanding response arrived. The
// cancelled predicate, when it turns true, completes the wait immediately
// with ErrCancelled.
func (su *ServiceUser) WaitForOutstanding(cancelled func() bool) error {
	return su.disp.waitForOutstandingRSP(cancelled)
}

// InterruptWaiters wakes WaitForOutstanding callers so they can observe a
// freshly set cancellation flag.
func (su *ServiceUser) InterruptWaiters() {
	su.disp.interruptWaiters()
}

// Release shuts the association down gracefully. It must be called exactly
// once; afterwards no operation can be performed on the ServiceUser.
func (su *ServiceUser) Release() {
	if err := su.waitUntilReady(); err != nil {
		return
	}
	su.disp.downcallCh <- stateEvent{event: evt11}
	su.mu.Lock()
	su.status = serviceUserClosed
	su.cond.Broadcast()
	su.mu.Unlock()
	su.disp.close()
}

// Abort tears the association down immediately with an A-ABORT. Outstanding
// operations fail with ErrAssociationAborted.
func (su *ServiceUser) Abort() {
	su.disp.downcallCh <- stateEvent{event: evt15}
	su.mu.Lock()
	su.status = serviceUserClosed
	su.cond.Broadcast()
	su.mu.Unlock()
	su.disp.close()
}

// runCStoreOnAssociation performs the request/response exchange of one
// C-STORE on an already-allocated command slot.
func runCStoreOnAssociation(cs *serviceCommandState, sopClassUID, sopInstanceUID string,
	data []byte, opts CStoreOptions) (dimse.Status, error) {
	cs.sendMessage(&dimse.CStoreRq{
		AffectedSOPClassUID:                  sopClassUID,
		MessageID:                            cs.messageID,
		Priority:                             opts.Priority,
		CommandDataSetType:                   dimse.CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID:               sopInstanceUID,
		MoveOriginatorApplicationEntityTitle: opts.MoveOriginatorAETitle,
		MoveOriginatorMessageID:              opts.MoveOriginatorMessageID,
	}, data)
	event, ok := <-cs.upcallCh
	if !ok {
		return dimse.Status{}, fmt.Errorf("%w: connection closed while waiting for C-STORE response", ErrAssociationAborted)
	}
	resp, ok := event.command.(*dimse.CStoreRsp)
	if !ok {
		return dimse.Status{}, fmt.Errorf("%w: invalid response for C-STORE: %v", ErrProtocol, event.command)
	}
	return resp.Status, nil
}
