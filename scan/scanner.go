// Package scan walks directory trees ahead of a bulk C-STORE, producing a
// manifest of storable objects and the presentation contexts an association
// must offer to send them.
package scan

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// Entry is one storable object discovered by a scan. It mirrors a manifest
// row: iuid, cuid, tsuid, file-meta end offset, path.
type Entry struct {
	SOPInstanceUID    string
	SOPClassUID       string
	TransferSyntaxUID string
	// FileMetaEnd is the byte offset where the dataset begins: preamble,
	// magic word and group 2 end here. Zero when the file has no file meta.
	FileMetaEnd int64
	Path        string
	Size        int64
}

// Options tunes a scan.
type Options struct {
	// Printout emits one "." per scanned object and one "I" per skipped
	// file to Out.
	Printout bool
	Out      io.Writer

	// ExtendedNegotiations, keyed by SOP class UID, adds one
	// common-extended-negotiation row the first time the class is seen.
	ExtendedNegotiations map[string]dicomnet.ExtendedNegotiation
}

// Result is the outcome of a scan.
type Result struct {
	Entries []Entry

	// ManifestPath is the temp file holding one tab-separated line per
	// entry: iuid, cuid, tsuid, file_meta_end, path.
	ManifestPath string

	// ContextOffers lists every (SOP class, transfer syntaxes) pair the
	// association request must carry to send all entries.
	ContextOffers []dicomnet.ContextOffer

	// ExtendedNegotiations carries the rows enabled by Options.
	ExtendedNegotiations []dicomnet.ExtendedNegotiation

	Skipped int
}

// Scan walks the roots recursively. Non-DICOM files are skipped silently;
// per-file read errors are logged and counted but never fail the scan.
func Scan(roots []string, opts Options) (*Result, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	log := logrus.WithField("component", "scan")
	res := &Result{}
	offers := make(map[string]map[string]bool) // cuid -> tsuid set
	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			entry, err := scanFile(path, info.Size())
			if err != nil {
				log.WithError(err).WithField("path", path).Debug("Skipping file")
				res.Skipped++
				if opts.Printout {
					fmt.Fprint(out, "I")
				}
				return nil
			}
			res.Entries = append(res.Entries, entry)
			accumulateOffers(res, offers, entry, opts)
			if opts.Printout {
				fmt.Fprint(out, ".")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := writeManifest(res); err != nil {
		return nil, err
	}
	return res, nil
}

// accumulateOffers records the presentation contexts needed for the entry:
// the (cuid, tsuid) pair if not yet covered, and for a new cuid the two
// uncompressed little-endian syntaxes.
func accumulateOffers(res *Result, offers map[string]map[string]bool, entry Entry, opts Options) {
	set, seen := offers[entry.SOPClassUID]
	if !seen {
		set = make(map[string]bool)
		offers[entry.SOPClassUID] = set
		for _, ts := range transfersyntax.StandardLittleEndianSyntaxes {
			set[ts] = true
		}
		if ext, ok := opts.ExtendedNegotiations[entry.SOPClassUID]; ok {
			res.ExtendedNegotiations = append(res.ExtendedNegotiations, ext)
		}
	}
	set[entry.TransferSyntaxUID] = true
}

func writeManifest(res *Result) error {
	path := filepath.Join(os.TempDir(), "dicomnet-scan-"+uuid.NewString()+".tsv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.SOPInstanceUID, e.SOPClassUID, e.TransferSyntaxUID, e.FileMetaEnd, e.Path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	res.ManifestPath = path
	res.ContextOffers = buildOffers(res.Entries)
	return nil
}

func buildOffers(entries []Entry) []dicomnet.ContextOffer {
	merged := make(map[string]map[string]bool)
	for _, e := range entries {
		set, ok := merged[e.SOPClassUID]
		if !ok {
			set = make(map[string]bool)
			merged[e.SOPClassUID] = set
			for _, ts := range transfersyntax.StandardLittleEndianSyntaxes {
				set[ts] = true
			}
		}
		set[e.TransferSyntaxUID] = true
	}
	cuids := make([]string, 0, len(merged))
	for cuid := range merged {
		cuids = append(cuids, cuid)
	}
	sort.Strings(cuids)
	var offers []dicomnet.ContextOffer
	for _, cuid := range cuids {
		// Compressed source syntaxes first (sorted), then explicit and
		// implicit VR little endian, so an acceptor that binds the first
		// proposed syntax binds a compressed source syntax or explicit VR.
		tsuids := make([]string, 0, len(merged[cuid]))
		for ts := range merged[cuid] {
			if ts != transfersyntax.ExplicitVRLittleEndian && ts != transfersyntax.ImplicitVRLittleEndian {
				tsuids = append(tsuids, ts)
			}
		}
		sort.Strings(tsuids)
		tsuids = append(tsuids, transfersyntax.StandardLittleEndianSyntaxes...)
		offers = append(offers, dicomnet.ContextOffer{
			AbstractSyntaxUID:  cuid,
			TransferSyntaxUIDs: tsuids,
		})
	}
	return offers
}

func scanFile(path string, size int64) (Entry, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return scanXMLFile(path, size)
	}
	metaEnd, hasMeta, err := fileMetaEnd(path)
	if err != nil {
		return Entry{}, err
	}
	var ds dicom.Dataset
	if hasMeta {
		ds, err = dicom.ParseFile(path, nil, dicom.SkipPixelData())
	} else {
		// No part-10 envelope on disk: the parser still needs one to know
		// the transfer syntax, so wrap the raw dataset the same way wire
		// payloads are wrapped.
		ds, err = parseHeaderless(path)
	}
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Path: path, Size: size, FileMetaEnd: metaEnd}
	if hasMeta {
		entry.SOPClassUID = datasetString(&ds, dicomtag.MediaStorageSOPClassUID)
		entry.SOPInstanceUID = datasetString(&ds, dicomtag.MediaStorageSOPInstanceUID)
		entry.TransferSyntaxUID = datasetString(&ds, dicomtag.TransferSyntaxUID)
	}
	// File meta absent or incomplete: synthesize the missing items from
	// the dataset, with the transfer syntax inferred as implicit LE.
	if entry.SOPClassUID == "" {
		entry.SOPClassUID = datasetString(&ds, dicomtag.SOPClassUID)
	}
	if entry.SOPInstanceUID == "" {
		entry.SOPInstanceUID = datasetString(&ds, dicomtag.SOPInstanceUID)
	}
	if entry.TransferSyntaxUID == "" {
		entry.TransferSyntaxUID = transfersyntax.ImplicitVRLittleEndian
	}
	if entry.SOPClassUID == "" || entry.SOPInstanceUID == "" {
		return Entry{}, fmt.Errorf("%s: missing SOP class or instance UID", path)
	}
	return entry, nil
}

// parseHeaderless reads a file that lacks the part-10 envelope and hands it
// to the dataset parser wrapped in a synthesized one. The transfer syntax
// of headerless objects is inferred as implicit VR little endian.
func parseHeaderless(path string) (dicom.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	blob, err := part10.WrapDataset(raw, "1.2.840.10008.5.1.4.1.1.7", "0",
		transfersyntax.ImplicitVRLittleEndian)
	if err != nil {
		return dicom.Dataset{}, err
	}
	return dicom.Parse(bytes.NewReader(blob), int64(len(blob)), nil, dicom.SkipPixelData())
}

// fileMetaEnd reads just enough of the file header to locate the end of the
// file-meta group: preamble, magic word, then the group-length element.
func fileMetaEnd(path string) (int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()
	header := make([]byte, 132+12)
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Too short for an envelope; the dataset starts at offset zero.
			return 0, false, nil
		}
		return 0, false, err
	}
	if string(header[128:132]) != "DICM" {
		// Headerless file; the dataset starts at offset zero.
		return 0, false, nil
	}
	group := binary.LittleEndian.Uint16(header[132:134])
	element := binary.LittleEndian.Uint16(header[134:136])
	if group != 0x0002 || element != 0x0000 {
		return 0, false, fmt.Errorf("%s: file meta does not start with group length", path)
	}
	vr := string(header[136:138])
	if vr != "UL" {
		return 0, false, fmt.Errorf("%s: unexpected group length VR %q", path, vr)
	}
	groupLen := binary.LittleEndian.Uint32(header[140:144])
	return 132 + 12 + int64(groupLen), true, nil
}

func datasetString(ds *dicom.Dataset, t dicomtag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	if v, ok := elem.Value.GetValue().([]string); ok && len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
