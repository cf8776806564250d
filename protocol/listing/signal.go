package listing

import (
	"fmt"

	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// TypeCancelListing is the signal type of CancelListing.
const TypeCancelListing = "cancelListing"

// Signal is a message the listing saga understands: CancelListing or
// Cancel.
type Signal interface {
	listingSignal()
}

// CancelListing asks to cancel a listing. Before the listing exists the
// saga is cancelled outright; an active listing is withdrawn.
type CancelListing struct {
	Reason string `json:"reason,omitempty"`
}

func (CancelListing) listingSignal() {}

// Cancel is the built-in cancel signal sent by Runner.Cancel. The listing
// saga treats it like CancelListing.
type Cancel workflow.CancelSignal

func (Cancel) listingSignal() {}

// Encode returns the type and payload to publish for sig.
func Encode(sig Signal) (string, []byte, error) {
	switch s := sig.(type) {
	case CancelListing:
		data, err := signal.Encode(s)
		return TypeCancelListing, data, err
	case Cancel:
		data, err := signal.Encode(workflow.CancelSignal(s))
		return signal.TypeCancel, data, err
	default:
		return "", nil, fmt.Errorf("listing: unknown signal %T", sig)
	}
}

// Decode parses a published listing signal.
func Decode(signalType string, payload []byte) (Signal, error) {
	switch signalType {
	case TypeCancelListing:
		c, err := signal.Decode[CancelListing](payload)
		if err != nil {
			return nil, err
		}
		return c, nil
	case signal.TypeCancel:
		c, err := signal.Decode[workflow.CancelSignal](payload)
		if err != nil {
			return nil, err
		}
		return Cancel(c), nil
	default:
		return nil, fmt.Errorf("listing: unknown signal type %q", signalType)
	}
}

// reason returns the cancellation reason carried by sig.
func reason(sig Signal) string {
	switch s := sig.(type) {
	case CancelListing:
		return s.Reason
	case Cancel:
		return s.Reason
	default:
		return ""
	}
}
