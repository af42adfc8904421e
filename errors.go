package dicomnet

import (
	"errors"
	"fmt"

	"github.com/openpacs/go-dicomnet/dimse"
)

// Error kinds of the association layer. Callers classify failures with
// errors.Is; the concrete messages wrap these sentinels.
var (
	// ErrConnectFailed covers TCP/TLS dial failures and A-ASSOCIATE-RJ: the
	// association never reached the established state.
	ErrConnectFailed = errors.New("connect failed")

	// ErrProtocol is a framing violation. It always aborts the association.
	ErrProtocol = errors.New("protocol error")

	// ErrAssociationAborted is returned for outstanding operations when the
	// association is torn down by either peer.
	ErrAssociationAborted = errors.New("association aborted")

	// ErrNoAcceptedContext means the peer accepted no presentation context
	// for the requested SOP class. The association stays usable.
	ErrNoAcceptedContext = errors.New("no accepted presentation context")

	// ErrCancelled is the cooperative-cancellation outcome.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout covers every configured timer expiration.
	ErrTimeout = errors.New("timeout")
)

// RemoteDIMSEError surfaces a non-success, non-pending response status to
// the originating call. It never aborts the association.
type RemoteDIMSEError struct {
	Status  dimse.Status
	Command dimse.Message
}

func (e *RemoteDIMSEError) Error() string {
	return fmt.Sprintf("remote DIMSE failure: status 0x%04x (%s)", uint16(e.Status.Status), e.Status.ErrorComment)
}
