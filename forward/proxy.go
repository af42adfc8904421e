package forward

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/transcode"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
)

// Proxy forwards stored objects to a destination AE. Plug its CStore
// method into the source-side ServiceProviderParams; it lazily opens (and
// re-opens, when context coverage grows) the destination association.
type Proxy struct {
	callingAET string
	source     dicomnet.Node
	dest       dicomnet.Node
	editors    []AttributeEditor
	st         *progress.State
	timeouts   dicomnet.TimeoutConfig
	log        *logrus.Entry

	mu     sync.Mutex
	su     *dicomnet.ServiceUser
	offers map[string]map[string]bool // cuid -> offered tsuid set
}

// NewProxy builds a proxy from the local AE title and the two peers. The
// editor list runs in order for every forwarded object.
func NewProxy(callingAET string, source, dest dicomnet.Node, editors []AttributeEditor, st *progress.State) *Proxy {
	if st == nil {
		st = progress.NewState()
	}
	return &Proxy{
		callingAET: callingAET,
		source:     source,
		dest:       dest,
		editors:    editors,
		st:         st,
		offers:     make(map[string]map[string]bool),
		log: logrus.WithFields(logrus.Fields{
			"component":   "forward",
			"destination": dest.String(),
		}),
	}
}

// State returns the progress/state handle updated per forwarded object.
func (p *Proxy) State() *progress.State { return p.st }

// SetTimeouts configures the destination association timers.
func (p *Proxy) SetTimeouts(t dicomnet.TimeoutConfig) { p.timeouts = t }

// CStore receives one object from the source association and forwards it.
// It is shaped to plug into dicomnet.ServiceProviderParams.CStore.
func (p *Proxy) CStore(ci dicomnet.ConnectionInfo, transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status {
	status, err := p.forward(transferSyntaxUID, sopClassUID, sopInstanceUID, data)
	prog := p.st.Progress()
	prog.SetProcessedPath(sopInstanceUID)
	if err != nil {
		prog.IncrementFailed()
		prog.Notify()
		p.st.SetStatus(int(dimse.StatusProcessingFailure))
		p.st.SetMessage(err.Error())
		p.log.WithError(err).WithField("iuid", sopInstanceUID).Error("Forward failed")
		return dimse.Status{Status: dimse.StatusProcessingFailure, ErrorComment: err.Error()}
	}
	switch {
	case status.Status == dimse.StatusSuccess:
		prog.IncrementCompleted()
	case status.Status.IsWarning():
		prog.IncrementWarning()
	default:
		prog.IncrementFailed()
	}
	prog.Notify()
	p.st.SetStatus(int(status.Status))
	return status
}

func (p *Proxy) forward(transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) (dimse.Status, error) {
	su, destTS, err := p.ensureAssociation(sopClassUID, transferSyntaxUID)
	if err != nil {
		return dimse.Status{}, err
	}

	// Zero-copy path: nothing to edit and the destination accepted the
	// source encoding, so the inbound dataset bytes splice through.
	if len(p.editors) == 0 && destTS == transferSyntaxUID {
		return su.CStore(sopClassUID, sopInstanceUID, data, dicomnet.CStoreOptions{
			TransferSyntaxUID: destTS,
		})
	}

	outData, usedTS, err := p.rewrite(transferSyntaxUID, destTS, data)
	if err != nil {
		return dimse.Status{}, err
	}
	if outData == nil {
		// An editor asked to skip this object.
		return dimse.Status{}, fmt.Errorf("object skipped by editor")
	}
	return su.CStore(sopClassUID, sopInstanceUID, outData, dicomnet.CStoreOptions{
		TransferSyntaxUID: usedTS,
	})
}

// rewrite runs the attribute-editor chain and, when pixel data is present
// and the syntaxes differ (or an editor registered an image mutation), the
// transcode pipeline. Returns nil data when an editor aborted the object.
func (p *Proxy) rewrite(sourceTS, destTS string, data []byte) ([]byte, string, error) {
	blob, err := part10.WrapDataset(data, "1.2.840.10008.5.1.4.1.1.7", "0", sourceTS)
	if err != nil {
		return nil, "", err
	}
	ds, err := dicom.Parse(bytes.NewReader(blob), int64(len(blob)), nil, transcode.ParseOptions()...)
	if err != nil {
		return nil, "", fmt.Errorf("parsing forwarded dataset: %w", err)
	}
	ctx := &EditorContext{
		SourceNode:        p.source,
		DestinationNode:   p.dest,
		TransferSyntaxUID: sourceTS,
	}
	for _, editor := range p.editors {
		editor.Apply(&ds, ctx)
		switch ctx.Abort {
		case AbortFile:
			p.log.WithField("reason", ctx.AbortMessage).Warn("Editor skipped object")
			return nil, "", nil
		case AbortConnection:
			p.closeDestination()
			return nil, "", fmt.Errorf("editor aborted destination association: %s", ctx.AbortMessage)
		}
	}

	src, hasPixels, err := transcode.ExtractPixelSource(&ds, sourceTS)
	if err != nil {
		return nil, "", err
	}
	if !hasPixels {
		out, err := transcode.EncodeElementsOnly(&ds, destTS)
		return out, destTS, err
	}
	desc, err := transcode.NewDescriptor(&ds)
	if err != nil {
		return nil, "", err
	}
	adapt := transcode.NewAdaptTransferSyntax(sourceTS, destTS)
	res, err := transcode.Transcode(src, desc, sourceTS, adapt, ctx.ImageEditors)
	if err != nil {
		return nil, "", err
	}
	out, err := transcode.EncodeDataset(&ds, res)
	return out, res.TransferSyntaxUID, err
}

// ensureAssociation returns the destination association, opening it on
// first use. When (cuid, sourceTS) has not been offered before, it joins the
// accumulated offers, any outstanding responses are drained, and the
// association is closed and re-opened with those offers. A pair that was
// already offered is not offered again, even when the destination did not
// accept it; the object then goes out in the syntax SelectTransferSyntax
// picks from the contexts the destination accepted for the class.
func (p *Proxy) ensureAssociation(sopClassUID, sourceTS string) (*dicomnet.ServiceUser, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	covered := p.offers[sopClassUID] != nil && p.offers[sopClassUID][sourceTS]
	p.addOffer(sopClassUID, sourceTS)
	if p.su != nil && !covered {
		// Context coverage grew: finish what is in flight, then renegotiate.
		p.log.WithFields(logrus.Fields{
			"cuid": sopClassUID,
			"ts":   sourceTS,
		}).Info("Reopening destination association with added contexts")
		p.su.WaitForOutstanding(nil)
		p.su.Release()
		p.su = nil
	}
	if p.su == nil {
		su, err := p.open()
		if err != nil {
			return nil, "", err
		}
		p.su = su
	}
	destTS, err := p.su.SelectTransferSyntax(sopClassUID, sourceTS)
	if err != nil {
		return nil, "", err
	}
	return p.su, destTS, nil
}

func (p *Proxy) addOffer(sopClassUID, sourceTS string) {
	set := p.offers[sopClassUID]
	if set == nil {
		set = make(map[string]bool)
		p.offers[sopClassUID] = set
		for _, ts := range transfersyntax.StandardLittleEndianSyntaxes {
			set[ts] = true
		}
	}
	set[sourceTS] = true
}

func (p *Proxy) open() (*dicomnet.ServiceUser, error) {
	var contextOffers []dicomnet.ContextOffer
	for cuid, set := range p.offers {
		// Compressed source syntaxes first (sorted), then explicit and
		// implicit VR little endian, so an acceptor that binds the first
		// proposed syntax binds a compressed source syntax or explicit VR.
		tsuids := make([]string, 0, len(set))
		for ts := range set {
			if ts != transfersyntax.ExplicitVRLittleEndian && ts != transfersyntax.ImplicitVRLittleEndian {
				tsuids = append(tsuids, ts)
			}
		}
		sort.Strings(tsuids)
		tsuids = append(tsuids, transfersyntax.StandardLittleEndianSyntaxes...)
		contextOffers = append(contextOffers, dicomnet.ContextOffer{
			AbstractSyntaxUID:  cuid,
			TransferSyntaxUIDs: tsuids,
		})
	}
	su := dicomnet.NewServiceUser(dicomnet.ServiceUserParams{
		CalledAETitle:  p.dest.AET(),
		CallingAETitle: p.callingAET,
		ContextOffers:  contextOffers,
		MaxPDUSize:     dicomnet.DefaultMaxPDUSize,
		Timeouts:       p.timeouts,
	})
	su.Connect(p.dest.Addr())
	return su, nil
}

func (p *Proxy) closeDestination() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.su != nil {
		p.su.Abort()
		p.su = nil
	}
}

// Close releases the destination association.
func (p *Proxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.su != nil {
		p.su.Release()
		p.su = nil
	}
}
