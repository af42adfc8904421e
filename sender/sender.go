// Package sender drives a bulk C-STORE: scan the input roots, open one
// association offering every needed presentation context, and push each
// manifest entry, transcoding pixel data when the negotiated syntax differs
// from the stored encoding.
package sender

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/scan"
	"github.com/openpacs/go-dicomnet/transcode"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
)

// StatusNoDICOMFiles is recorded when a scan produces nothing to send.
const StatusNoDICOMFiles = 0xC000

// Options tunes a bulk send.
type Options struct {
	Priority uint16

	// RequestedTransferSyntax forces the destination encoding; empty keeps
	// each object's source syntax when the peer accepts it.
	RequestedTransferSyntax string

	// JPEGQuality is the baseline-JPEG quality used when transcoding to a
	// lossy destination.
	JPEGQuality int

	// ExtendedNegotiations adds common-extended-negotiation rows per SOP
	// class encountered by the scan.
	ExtendedNegotiations map[string]dicomnet.ExtendedNegotiation

	// Printout enables the scan's "."/"I" progress characters on Out.
	Printout bool
	Out      io.Writer

	Timeouts dicomnet.TimeoutConfig
}

// Sender performs one bulk store to a fixed peer pair.
type Sender struct {
	calling string
	called  dicomnet.Node
	opts    Options
	log     *logrus.Entry
}

// New builds a sender from the local AE title and the destination node.
func New(callingAET string, called dicomnet.Node, opts Options) *Sender {
	return &Sender{
		calling: callingAET,
		called:  called,
		opts:    opts,
		log: logrus.WithFields(logrus.Fields{
			"component": "sender",
			"called":    called.String(),
		}),
	}
}

// Send scans the roots and transfers every discovered object, updating st
// after each response. A cancellation observed on the progress handle
// aborts the association and drains.
func (s *Sender) Send(roots []string, st *progress.State) error {
	scanRes, err := scan.Scan(roots, scan.Options{
		Printout:             s.opts.Printout,
		Out:                  s.opts.Out,
		ExtendedNegotiations: s.opts.ExtendedNegotiations,
	})
	if err != nil {
		return err
	}
	defer os.Remove(scanRes.ManifestPath)
	if len(scanRes.Entries) == 0 {
		st.SetStatus(StatusNoDICOMFiles)
		st.SetMessage("no DICOM files found")
		return fmt.Errorf("no DICOM files found under %v", roots)
	}

	params := dicomnet.ServiceUserParams{
		CalledAETitle:        s.called.AET(),
		CallingAETitle:       s.calling,
		ContextOffers:        scanRes.ContextOffers,
		ExtendedNegotiations: scanRes.ExtendedNegotiations,
		MaxPDUSize:           dicomnet.DefaultMaxPDUSize,
		Timeouts:             s.opts.Timeouts,
	}
	su := dicomnet.NewServiceUser(params)
	su.Connect(s.called.Addr())

	prog := st.Progress()
	prog.SetRemaining(len(scanRes.Entries))
	finalStatus := int(dimse.StatusSuccess)
	released := false
	defer func() {
		if !released {
			su.Release()
		}
	}()
	for _, entry := range scanRes.Entries {
		if prog.IsCancelled() {
			s.log.Warn("Cancellation observed; aborting association")
			st.SetStatus(int(dimse.StatusCancel))
			su.Abort()
			released = true
			return dicomnet.ErrCancelled
		}
		status, sent, err := s.sendOne(su, entry)
		prog.DecrementRemaining()
		prog.SetProcessedPath(entry.Path)
		switch {
		case err != nil:
			prog.IncrementFailed()
			finalStatus = int(dimse.StatusProcessingFailure)
			st.SetMessage(err.Error())
			s.log.WithError(err).WithField("path", entry.Path).Error("Store failed")
			if errors.Is(err, dicomnet.ErrAssociationAborted) || errors.Is(err, dicomnet.ErrConnectFailed) {
				prog.Notify()
				st.SetStatus(finalStatus)
				return err
			}
		case status.Status == dimse.StatusSuccess:
			prog.IncrementCompleted()
			prog.AddTotalSize(sent)
		case status.Status.IsWarning():
			prog.IncrementWarning()
			prog.AddTotalSize(sent)
			finalStatus = int(status.Status)
			st.SetMessage(status.ErrorComment)
		default:
			prog.IncrementFailed()
			finalStatus = int(status.Status)
			st.SetMessage(status.ErrorComment)
		}
		prog.Notify()
	}
	st.SetStatus(finalStatus)
	return nil
}

// sendOne transfers a single manifest entry. The returned size is the
// source file size, counted against totalSize for success and warning
// responses.
func (s *Sender) sendOne(su *dicomnet.ServiceUser, entry scan.Entry) (dimse.Status, int64, error) {
	sourceTS := entry.TransferSyntaxUID
	chosenTS, err := su.SelectTransferSyntax(entry.SOPClassUID, sourceTS)
	if err != nil {
		return dimse.Status{}, 0, err
	}
	requested := chosenTS
	if s.opts.RequestedTransferSyntax != "" {
		// A forced destination must still be one the peer accepted.
		if forced, err := su.SelectTransferSyntax(entry.SOPClassUID, s.opts.RequestedTransferSyntax); err == nil &&
			forced == s.opts.RequestedTransferSyntax {
			requested = forced
		}
	}

	var data []byte
	usedTS := requested
	if requested == sourceTS {
		// Splice path: the on-disk dataset bytes go out bit-identical.
		data, err = readDatasetBytes(entry)
		if err != nil {
			return dimse.Status{}, 0, err
		}
	} else {
		data, usedTS, err = s.reencode(su, entry, requested)
		if err != nil {
			return dimse.Status{}, 0, err
		}
	}
	status, err := su.CStore(entry.SOPClassUID, entry.SOPInstanceUID, data, dicomnet.CStoreOptions{
		Priority:          s.opts.Priority,
		TransferSyntaxUID: usedTS,
	})
	if err != nil {
		return dimse.Status{}, 0, err
	}
	return status, entry.Size, nil
}

// reencode parses the source object and runs the transcode pipeline toward
// the requested syntax. The pipeline may downgrade; the returned syntax is
// the one actually produced, re-validated against the accepted contexts.
func (s *Sender) reencode(su *dicomnet.ServiceUser, entry scan.Entry, requested string) ([]byte, string, error) {
	ds, err := dicom.ParseFile(entry.Path, nil, transcode.ParseOptions()...)
	if err != nil {
		return nil, "", err
	}
	src, hasPixels, err := transcode.ExtractPixelSource(&ds, entry.TransferSyntaxUID)
	if err != nil {
		return nil, "", err
	}
	if !hasPixels {
		data, err := transcode.EncodeElementsOnly(&ds, requested)
		return data, requested, err
	}
	desc, err := transcode.NewDescriptor(&ds)
	if err != nil {
		return nil, "", err
	}
	adapt := transcode.NewAdaptTransferSyntax(entry.TransferSyntaxUID, requested)
	adapt.JPEGQuality = s.opts.JPEGQuality
	res, err := transcode.Transcode(src, desc, entry.TransferSyntaxUID, adapt, nil)
	if err != nil {
		return nil, "", err
	}
	// The pipeline may have downgraded; the advertised context must match
	// what the peer accepted for the produced syntax.
	usedTS, err := su.SelectTransferSyntax(entry.SOPClassUID, res.TransferSyntaxUID)
	if err != nil {
		return nil, "", err
	}
	if usedTS != res.TransferSyntaxUID {
		return nil, "", fmt.Errorf("peer accepts no context for transcoded syntax %s", res.TransferSyntaxUID)
	}
	data, err := transcode.EncodeDataset(&ds, res)
	return data, usedTS, err
}

// readDatasetBytes returns the file content beyond the file-meta group:
// exactly the bytes that travel in the data PDVs on the splice path.
func readDatasetBytes(entry scan.Entry) ([]byte, error) {
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if entry.FileMetaEnd > 0 {
		if _, err := f.Seek(entry.FileMetaEnd, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}
