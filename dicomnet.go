// Package dicomnet implements the DICOM upper-layer protocol (PS3.8) and
// the composite and query/retrieve DIMSE services (PS3.7): C-ECHO, C-STORE,
// C-FIND, C-GET and C-MOVE, on both the SCU and the SCP side.
//
// A ServiceUser dials a peer, negotiates an association and issues requests;
// a ServiceProvider listens for associations and dispatches requests to
// registered callbacks. C-STORE datasets are carried as raw bytes in the
// negotiated transfer syntax; C-FIND, C-GET and C-MOVE identifiers are
// encoded from and decoded into element lists by the package.
package dicomnet

import (
	"fmt"
	"time"
)

// DefaultPort is the historic DICOM port; DefaultPortAlternate is the
// IANA-registered alternative most archives listen on.
const (
	DefaultPort          = 104
	DefaultPortAlternate = 11112
)

const defaultARTIMDuration = 10 * time.Second

// TimeoutConfig bundles the timers of an association. Only the ARTIM timer
// is enforced: Accept sets it on the acceptor and Release on the requestor
// (10 seconds when zero). When it expires the transport is closed, in some
// states after an A-ABORT whose source is the service provider.
// ServiceUser.Connect does not read Connect and dials with a 30-second
// timeout. Request, Response and Idle are not enforced.
type TimeoutConfig struct {
	Connect  time.Duration // TCP/TLS dial
	Accept   time.Duration // A-ASSOCIATE-RQ to AC/RJ (ARTIM on the acceptor)
	Request  time.Duration // sending one DIMSE request
	Response time.Duration // waiting for one DIMSE response
	Release  time.Duration // A-RELEASE-RQ to RP (ARTIM on the requestor)
	Idle     time.Duration // inactivity between messages
}

func (t TimeoutConfig) connectOrDefault() time.Duration {
	if t.Connect == 0 {
		return 30 * time.Second
	}
	return t.Connect
}

func doassert(cond bool, msgs ...interface{}) {
	if !cond {
		var s string
		for _, msg := range msgs {
			s += fmt.Sprintf("%v ", msg)
		}
		panic(s)
	}
}
