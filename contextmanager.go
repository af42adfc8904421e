package dicomnet

// Presentation-context bookkeeping for one association. A context ID is an
// odd byte allocated during the A-ASSOCIATE handshake; it binds an abstract
// syntax (SOP class) to the single transfer syntax the acceptor picked.

import (
	"fmt"

	godicom "github.com/grailbio/go-dicom"
	"github.com/grailbio/go-dicom/dicomlog"
	"github.com/grailbio/go-dicom/dicomuid"
	"github.com/openpacs/go-dicomnet/pdu/pdu_item"
)

// contextManagerEntry is one negotiated presentation context.
type contextManagerEntry struct {
	contextID         byte
	abstractSyntaxUID string
	transferSyntaxUID string
	scuRole           bool
	scpRole           bool
	result            pdu_item.PresentationContextResult
}

func (e contextManagerEntry) accepted() bool {
	return e.result == pdu_item.PresentationContextAccepted
}

// contextManager manages the mappings between a context ID and the
// negotiated (abstract syntax, transfer syntax) pair. One contextManager is
// created per association; context IDs are meaningless outside it.
type contextManager struct {
	label string // for logging only

	contextIDToEntry      map[byte]*contextManagerEntry
	abstractSyntaxEntries map[string][]*contextManagerEntry // accepted entries per SOP class

	// Info about the other side of the communication, gleaned from the
	// A-ASSOCIATE-* PDUs.
	peerMaxPDUSize                int
	peerImplementationClassUID    string
	peerImplementationVersionName string

	// tmpRequests is used only on the requestor side. It holds the
	// contextID->PresentationContextItem mapping generated for the
	// A_ASSOCIATE_RQ PDU, matched against the A_ASSOCIATE_AC on arrival.
	tmpRequests map[byte]*pdu_item.PresentationContextItem
}

const (
	// DefaultMaxPDUSize is the PDU size this implementation advertises.
	DefaultMaxPDUSize = 4 << 20

	// unlimitedChunkSize caps outgoing PDU payloads when the peer
	// advertised a maximum PDU length of zero (meaning unlimited).
	unlimitedChunkSize = 16 << 10
)

func newContextManager(label string) *contextManager {
	return &contextManager{
		label:                 label,
		contextIDToEntry:      make(map[byte]*contextManagerEntry),
		abstractSyntaxEntries: make(map[string][]*contextManagerEntry),
		peerMaxPDUSize:        16384, // the default used by Osirix and pynetdicom
		tmpRequests:           make(map[byte]*pdu_item.PresentationContextItem),
	}
}

// effectivePeerMaxPDUSize returns the chunking bound for outgoing P-DATA-TF
// PDUs. Zero from the peer means unlimited, in which case the sender picks a
// reasonable cap.
func (m *contextManager) effectivePeerMaxPDUSize() int {
	if m.peerMaxPDUSize == 0 {
		return unlimitedChunkSize
	}
	return m.peerMaxPDUSize
}

// ContextOffer is one (SOP class, transfer syntaxes) proposal row used to
// build the A-ASSOCIATE-RQ.
type ContextOffer struct {
	AbstractSyntaxUID  string
	TransferSyntaxUIDs []string
}

// RoleSelection requests SCU/SCP role reversal for one SOP class. Where
// absent, the requester is SCU and the acceptor is SCP.
type RoleSelection struct {
	SOPClassUID string
	SCU         bool
	SCP         bool
}

// ExtendedNegotiation carries a common-extended-negotiation row verbatim.
type ExtendedNegotiation struct {
	SOPClassUID                string
	ServiceClassUID            string
	RelatedGeneralSOPClassUIDs []string
}

// SOPClassExtendedNegotiation carries a SOP-class-extended-negotiation row;
// the service-class application information bytes travel verbatim. For the
// query services, byte 0 enables relational queries and byte 1 combined
// date-time matching.
type SOPClassExtendedNegotiation struct {
	SOPClassUID string
	Info        []byte
}

// generateAssociateRequest produces the item list to be embedded in an
// A_ASSOCIATE_RQ, and records the proposed contexts for matching against the
// A_ASSOCIATE_AC.
func (m *contextManager) generateAssociateRequest(params ServiceUserParams) []pdu_item.SubItem {
	items := []pdu_item.SubItem{
		&pdu_item.ApplicationContextItem{
			Name: pdu_item.DICOMApplicationContextItemName,
		}}
	var contextID byte = 1
	for _, offer := range params.offers() {
		syntaxItems := []pdu_item.SubItem{
			&pdu_item.AbstractSyntaxSubItem{Name: offer.AbstractSyntaxUID},
		}
		for _, syntaxUID := range offer.TransferSyntaxUIDs {
			syntaxItems = append(syntaxItems, &pdu_item.TransferSyntaxSubItem{Name: syntaxUID})
		}
		item := &pdu_item.PresentationContextItem{
			Type:      pdu_item.ItemTypePresentationContextRequest,
			ContextID: contextID,
			Result:    0, // must be zero for a request
			Items:     syntaxItems,
		}
		items = append(items, item)
		m.tmpRequests[contextID] = item
		contextID += 2 // must stay odd
	}
	userItems := []pdu_item.SubItem{
		&pdu_item.UserInformationMaximumLengthItem{MaximumLengthReceived: uint32(params.MaxPDUSize)},
		&pdu_item.ImplementationClassUIDSubItem{Name: godicom.DefaultImplementationClassUID},
		&pdu_item.ImplementationVersionNameSubItem{Name: godicom.DefaultImplementationVersionName},
	}
	if params.MaxOpsInvoked != 0 || params.MaxOpsPerformed != 0 {
		userItems = append(userItems, &pdu_item.AsynchronousOperationsWindowSubItem{
			MaxOpsInvoked:   params.MaxOpsInvoked,
			MaxOpsPerformed: params.MaxOpsPerformed,
		})
	}
	for _, role := range params.RoleSelections {
		userItems = append(userItems, &pdu_item.RoleSelectionSubItem{
			SOPClassUID: role.SOPClassUID,
			SCURole:     boolToByte(role.SCU),
			SCPRole:     boolToByte(role.SCP),
		})
	}
	for _, ext := range params.SOPClassExtendedNegotiations {
		userItems = append(userItems, &pdu_item.SOPClassExtendedNegotiationSubItem{
			SOPClassUID: ext.SOPClassUID,
			Info:        ext.Info,
		})
	}
	for _, ext := range params.ExtendedNegotiations {
		userItems = append(userItems, &pdu_item.CommonExtendedNegotiationSubItem{
			SOPClassUID:                ext.SOPClassUID,
			ServiceClassUID:            ext.ServiceClassUID,
			RelatedGeneralSOPClassUIDs: ext.RelatedGeneralSOPClassUIDs,
		})
	}
	items = append(items, &pdu_item.UserInformationItem{Items: userItems})
	return items
}

// onAssociateRequest is called on the acceptor side when an A_ASSOCIATE_RQ
// arrives. capabilities constrains which transfer syntaxes are acceptable
// per SOP class; a nil map accepts the first syntax proposed for any class.
// Returns the items for the A_ASSOCIATE_AC.
func (m *contextManager) onAssociateRequest(requestItems []pdu_item.SubItem,
	capabilities map[string][]string, maxPDUSize int) ([]pdu_item.SubItem, error) {
	responses := []pdu_item.SubItem{
		&pdu_item.ApplicationContextItem{
			Name: pdu_item.DICOMApplicationContextItemName,
		},
	}
	roles := map[string]RoleSelection{}
	var roleItems []pdu_item.SubItem
	for _, requestItem := range requestItems {
		switch ri := requestItem.(type) {
		case *pdu_item.ApplicationContextItem:
			if ri.Name != pdu_item.DICOMApplicationContextItemName {
				dicomlog.Vprintf(0, "dicom.contextManager(%s): Illegal application context name %v", m.label, ri.Name)
			}
		case *pdu_item.PresentationContextItem:
			var sopUID string
			var proposedSyntaxes []string
			for _, subItem := range ri.Items {
				switch c := subItem.(type) {
				case *pdu_item.AbstractSyntaxSubItem:
					if sopUID != "" {
						return nil, fmt.Errorf("%w: multiple AbstractSyntaxSubItem found in %v", ErrProtocol, ri.String())
					}
					sopUID = c.Name
				case *pdu_item.TransferSyntaxSubItem:
					proposedSyntaxes = append(proposedSyntaxes, c.Name)
				default:
					return nil, fmt.Errorf("%w: unknown subitem in PresentationContext: %s", ErrProtocol, subItem.String())
				}
			}
			if sopUID == "" || len(proposedSyntaxes) == 0 {
				return nil, fmt.Errorf("%w: SOP or transfer syntax not found in PresentationContext: %v", ErrProtocol, ri.String())
			}
			pickedTransferSyntaxUID, result := pickTransferSyntax(sopUID, proposedSyntaxes, capabilities)
			response := &pdu_item.PresentationContextItem{
				Type:      pdu_item.ItemTypePresentationContextResponse,
				ContextID: ri.ContextID,
				Result:    result,
			}
			if result == pdu_item.PresentationContextAccepted {
				// At most one transfer syntax per accepted context.
				response.Items = []pdu_item.SubItem{&pdu_item.TransferSyntaxSubItem{Name: pickedTransferSyntaxUID}}
			}
			responses = append(responses, response)
			m.addContextMapping(sopUID, pickedTransferSyntaxUID, ri.ContextID, result)
		case *pdu_item.UserInformationItem:
			for _, subItem := range ri.Items {
				switch c := subItem.(type) {
				case *pdu_item.UserInformationMaximumLengthItem:
					m.peerMaxPDUSize = int(c.MaximumLengthReceived)
				case *pdu_item.ImplementationClassUIDSubItem:
					m.peerImplementationClassUID = c.Name
				case *pdu_item.ImplementationVersionNameSubItem:
					m.peerImplementationVersionName = c.Name
				case *pdu_item.RoleSelectionSubItem:
					// Role selection is accepted as sent.
					roles[c.SOPClassUID] = RoleSelection{
						SOPClassUID: c.SOPClassUID,
						SCU:         c.SCURole != 0,
						SCP:         c.SCPRole != 0,
					}
					roleItems = append(roleItems, c)
				case *pdu_item.SOPClassExtendedNegotiationSubItem:
					// Carried verbatim.
					roleItems = append(roleItems, c)
				case *pdu_item.CommonExtendedNegotiationSubItem:
					roleItems = append(roleItems, c)
				}
			}
		}
	}
	m.applyRoles(roles)
	userItems := []pdu_item.SubItem{
		&pdu_item.UserInformationMaximumLengthItem{MaximumLengthReceived: uint32(maxPDUSize)},
	}
	userItems = append(userItems, roleItems...)
	responses = append(responses, &pdu_item.UserInformationItem{Items: userItems})
	dicomlog.Vprintf(1, "dicom.contextManager(%s): Received associate request, #contexts:%v, maxPDU:%v, implclass:%v, version:%v",
		m.label, len(m.contextIDToEntry),
		m.peerMaxPDUSize, m.peerImplementationClassUID, m.peerImplementationVersionName)
	return responses, nil
}

// pickTransferSyntax decides which of the proposed syntaxes to accept for
// the SOP class, honoring the configured transfer capabilities.
func pickTransferSyntax(sopUID string, proposed []string,
	capabilities map[string][]string) (string, pdu_item.PresentationContextResult) {
	if capabilities == nil {
		return proposed[0], pdu_item.PresentationContextAccepted
	}
	allowed, ok := capabilities[sopUID]
	if !ok {
		return "", pdu_item.PresentationContextProviderRejectionAbstractSyntaxNotSupported
	}
	if len(allowed) == 0 {
		return proposed[0], pdu_item.PresentationContextAccepted
	}
	for _, want := range allowed {
		for _, p := range proposed {
			if p == want {
				return p, pdu_item.PresentationContextAccepted
			}
		}
	}
	return "", pdu_item.PresentationContextProviderRejectionTransferSyntaxNotSupported
}

// onAssociateResponse is called on the requestor side when the
// A_ASSOCIATE_AC PDU arrives from the acceptor.
func (m *contextManager) onAssociateResponse(responses []pdu_item.SubItem) error {
	roles := map[string]RoleSelection{}
	for _, responseItem := range responses {
		switch ri := responseItem.(type) {
		case *pdu_item.PresentationContextItem:
			var pickedTransferSyntaxUID string
			for _, subItem := range ri.Items {
				switch c := subItem.(type) {
				case *pdu_item.TransferSyntaxSubItem:
					if pickedTransferSyntaxUID != "" {
						return fmt.Errorf("%w: multiple syntax UIDs in A_ASSOCIATE_AC: %v", ErrProtocol, ri.String())
					}
					pickedTransferSyntaxUID = c.Name
				default:
					return fmt.Errorf("%w: unknown subitem %s in PresentationContext: %s", ErrProtocol, subItem.String(), ri.String())
				}
			}
			request, ok := m.tmpRequests[ri.ContextID]
			if !ok {
				return fmt.Errorf("%w: unknown context ID %d in A_ASSOCIATE_AC: %v", ErrProtocol, ri.ContextID, ri.String())
			}
			var sopUID string
			found := false
			for _, subItem := range request.Items {
				switch c := subItem.(type) {
				case *pdu_item.AbstractSyntaxSubItem:
					sopUID = c.Name
				case *pdu_item.TransferSyntaxSubItem:
					if c.Name == pickedTransferSyntaxUID {
						found = true
					}
				}
			}
			if sopUID == "" {
				return fmt.Errorf("%w: AbstractSyntaxSubItem not found in %v", ErrProtocol, request.String())
			}
			if ri.Result == pdu_item.PresentationContextAccepted && !found {
				return fmt.Errorf("%w: accepted transfer syntax %v was never proposed in %v",
					ErrProtocol, dicomuid.UIDString(pickedTransferSyntaxUID), request.String())
			}
			m.addContextMapping(sopUID, pickedTransferSyntaxUID, ri.ContextID, ri.Result)
		case *pdu_item.UserInformationItem:
			for _, subItem := range ri.Items {
				switch c := subItem.(type) {
				case *pdu_item.UserInformationMaximumLengthItem:
					m.peerMaxPDUSize = int(c.MaximumLengthReceived)
				case *pdu_item.ImplementationClassUIDSubItem:
					m.peerImplementationClassUID = c.Name
				case *pdu_item.ImplementationVersionNameSubItem:
					m.peerImplementationVersionName = c.Name
				case *pdu_item.RoleSelectionSubItem:
					roles[c.SOPClassUID] = RoleSelection{
						SOPClassUID: c.SOPClassUID,
						SCU:         c.SCURole != 0,
						SCP:         c.SCPRole != 0,
					}
				}
			}
		}
	}
	m.applyRoles(roles)
	dicomlog.Vprintf(1, "dicom.contextManager(%s): Received associate response, #contexts:%v, maxPDU:%v, implclass:%v, version:%v",
		m.label, len(m.contextIDToEntry),
		m.peerMaxPDUSize, m.peerImplementationClassUID, m.peerImplementationVersionName)
	return nil
}

// addContextMapping adds a mapping between a (global) UID pair and a
// (per-association) context ID.
func (m *contextManager) addContextMapping(
	abstractSyntaxUID string,
	transferSyntaxUID string,
	contextID byte,
	result pdu_item.PresentationContextResult) {
	dicomlog.Vprintf(2, "dicom.contextManager(%s): Map context %d -> %s, %s (result %d)",
		m.label, contextID, dicomuid.UIDString(abstractSyntaxUID),
		dicomuid.UIDString(transferSyntaxUID), result)
	doassert(abstractSyntaxUID != "")
	doassert(contextID%2 == 1)
	if result == pdu_item.PresentationContextAccepted {
		doassert(transferSyntaxUID != "")
	}
	e := &contextManagerEntry{
		abstractSyntaxUID: abstractSyntaxUID,
		transferSyntaxUID: transferSyntaxUID,
		contextID:         contextID,
		// Default roles: the requester acts as SCU, the acceptor as SCP.
		scuRole: true,
		scpRole: false,
		result:  result,
	}
	m.contextIDToEntry[contextID] = e
	if result == pdu_item.PresentationContextAccepted {
		m.abstractSyntaxEntries[abstractSyntaxUID] = append(m.abstractSyntaxEntries[abstractSyntaxUID], e)
	}
}

func (m *contextManager) applyRoles(roles map[string]RoleSelection) {
	if len(roles) == 0 {
		return
	}
	for _, entries := range m.abstractSyntaxEntries {
		for _, e := range entries {
			if role, ok := roles[e.abstractSyntaxUID]; ok {
				e.scuRole = role.SCU
				e.scpRole = role.SCP
			}
		}
	}
}

// lookupByAbstractSyntaxUID returns the first accepted context for a SOP
// class UID.
func (m *contextManager) lookupByAbstractSyntaxUID(name string) (contextManagerEntry, error) {
	entries := m.abstractSyntaxEntries[name]
	if len(entries) == 0 {
		return contextManagerEntry{}, fmt.Errorf("%w: %s", ErrNoAcceptedContext, dicomuid.UIDString(name))
	}
	return *entries[0], nil
}

// selectTransferSyntax picks the context to use for sending an object of the
// given SOP class stored in sourceTransferSyntaxUID: the source syntax when
// the peer accepted it, otherwise the first accepted syntax for the class.
func (m *contextManager) selectTransferSyntax(abstractSyntaxUID, sourceTransferSyntaxUID string) (contextManagerEntry, error) {
	entries := m.abstractSyntaxEntries[abstractSyntaxUID]
	if len(entries) == 0 {
		return contextManagerEntry{}, fmt.Errorf("%w: %s", ErrNoAcceptedContext, dicomuid.UIDString(abstractSyntaxUID))
	}
	for _, e := range entries {
		if e.transferSyntaxUID == sourceTransferSyntaxUID {
			return *e, nil
		}
	}
	return *entries[0], nil
}

// lookupByContextID converts a context ID to its negotiated entry.
func (m *contextManager) lookupByContextID(contextID byte) (contextManagerEntry, error) {
	e, ok := m.contextIDToEntry[contextID]
	if !ok {
		return contextManagerEntry{}, fmt.Errorf("%w: unknown context ID %d", ErrProtocol, contextID)
	}
	if !e.accepted() {
		return contextManagerEntry{}, fmt.Errorf("%w: context ID %d was not accepted (result %d)", ErrProtocol, contextID, e.result)
	}
	return *e, nil
}

// acceptedContexts returns a snapshot of every accepted context.
func (m *contextManager) acceptedContexts() []contextManagerEntry {
	var entries []contextManagerEntry
	for _, e := range m.contextIDToEntry {
		if e.accepted() {
			entries = append(entries, *e)
		}
	}
	return entries
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
