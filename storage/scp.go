// Package storage implements the C-STORE service class provider: objects
// received over an association are streamed into a temp directory, given a
// synthesized part-10 header, and atomically renamed into place.
package storage

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
)

// Caller identifies an AE allowed to store objects. An empty Hostname skips
// host validation for that entry.
type Caller struct {
	AETitle  string
	Hostname string
}

// Config configures the storage SCP.
type Config struct {
	// Directory receives the stored objects. In-progress writes live in
	// Directory/tmp and are renamed into place once complete, so the
	// primary tree never contains partial files.
	Directory string

	// FilenamePattern is a template over DICOM tags for the final relative
	// path, e.g. "{00080020,date,yyyy/MM/dd}/{0020000D,hash}/{00080018}.dcm".
	// Empty means the bare SOP instance UID.
	FilenamePattern string

	// AuthorizedCallers restricts who may store. Empty allows everyone;
	// otherwise a non-matching calling AE is answered with status 0x0124.
	AuthorizedCallers []Caller

	// ReceiveDelay and ResponseDelay insert artificial pauses before
	// processing and before responding. For testing slow peers.
	ReceiveDelay  time.Duration
	ResponseDelay time.Duration
}

// SCP is the storage service class provider. Safe for concurrent use; each
// object is written under a unique temp name.
type SCP struct {
	cfg     Config
	pattern *PathPattern
	prog    *progress.Progress
	log     *logrus.Entry
}

// New builds a storage SCP and creates its directories.
func New(cfg Config, prog *progress.Progress) (*SCP, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("storage: directory must be set")
	}
	pattern, err := CompilePattern(cfg.FilenamePattern)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cfg.Directory, "tmp"), 0o755); err != nil {
		return nil, err
	}
	if prog == nil {
		prog = progress.New()
	}
	return &SCP{
		cfg:     cfg,
		pattern: pattern,
		prog:    prog,
		log:     logrus.WithField("component", "storage-scp"),
	}, nil
}

// Progress returns the progress handle updated per stored object.
func (s *SCP) Progress() *progress.Progress { return s.prog }

// CStore is the per-object entry point, shaped to plug into
// dicomnet.ServiceProviderParams.CStore.
func (s *SCP) CStore(ci dicomnet.ConnectionInfo, transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status {
	if s.cfg.ReceiveDelay > 0 {
		time.Sleep(s.cfg.ReceiveDelay)
	}
	status := s.store(ci, transferSyntaxUID, sopClassUID, sopInstanceUID, data)
	if s.cfg.ResponseDelay > 0 {
		time.Sleep(s.cfg.ResponseDelay)
	}
	return status
}

func (s *SCP) store(ci dicomnet.ConnectionInfo, transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status {
	if !s.authorized(ci) {
		s.log.WithFields(logrus.Fields{
			"calling_aet": ci.CallingAETitle,
			"remote":      fmt.Sprint(ci.RemoteAddr),
		}).Warn("Rejecting store from unauthorized caller")
		return dimse.Status{
			Status:       dimse.StatusNotAuthorized,
			ErrorComment: fmt.Sprintf("calling AE %q is not authorized", ci.CallingAETitle),
		}
	}
	finalPath, err := s.writeObject(transferSyntaxUID, sopClassUID, sopInstanceUID, data)
	if err != nil {
		s.log.WithError(err).WithField("iuid", sopInstanceUID).Error("Failed to store object")
		return dimse.Status{Status: dimse.CStoreCannotUnderstand, ErrorComment: err.Error()}
	}
	s.prog.IncrementCompleted()
	s.prog.SetProcessedPath(finalPath)
	s.prog.Notify()
	s.log.WithFields(logrus.Fields{
		"iuid": sopInstanceUID,
		"path": finalPath,
		"size": len(data),
	}).Info("Stored object")
	return dimse.Success
}

func (s *SCP) authorized(ci dicomnet.ConnectionInfo) bool {
	if len(s.cfg.AuthorizedCallers) == 0 {
		return true
	}
	var remoteHost string
	if ci.RemoteAddr != nil {
		remoteHost, _, _ = net.SplitHostPort(ci.RemoteAddr.String())
	}
	for _, c := range s.cfg.AuthorizedCallers {
		if c.AETitle != ci.CallingAETitle {
			continue
		}
		if c.Hostname == "" || hostMatches(c.Hostname, remoteHost) {
			return true
		}
	}
	return false
}

func hostMatches(want, got string) bool {
	if want == got {
		return true
	}
	// The configured hostname may not be what the socket reports; compare
	// resolved addresses as a fallback.
	addrs, err := net.LookupHost(want)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a == got {
			return true
		}
	}
	return false
}

// writeObject writes the part-10 file under tmp/, resolves the final path,
// and renames the temp file into place. On any I/O failure the temp file is
// unlinked and the error returned.
func (s *SCP) writeObject(transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) (string, error) {
	tmpPath := filepath.Join(s.cfg.Directory, "tmp", sopInstanceUID)
	if err := s.writeTempFile(tmpPath, transferSyntaxUID, sopClassUID, sopInstanceUID, data); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	relPath := sopInstanceUID
	if s.pattern != nil {
		var err error
		relPath, err = s.resolvePattern(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return "", err
		}
	}
	finalPath := filepath.Join(s.cfg.Directory, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	// Rename replaces an existing object with the same resolved name.
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return finalPath, nil
}

func (s *SCP) writeTempFile(tmpPath, transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := part10.WriteFileMetaGroup(f, sopClassUID, sopInstanceUID, transferSyntaxUID); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// resolvePattern re-parses the just-written file (bulk data excluded) and
// renders the configured path template against the merged dataset.
func (s *SCP) resolvePattern(tmpPath string) (string, error) {
	ds, err := dicom.ParseFile(tmpPath, nil, dicom.SkipPixelData())
	if err != nil {
		return "", fmt.Errorf("re-parse of stored object failed: %w", err)
	}
	return s.pattern.Format(&ds)
}
