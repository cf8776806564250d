package draft

import (
	"fmt"

	"github.com/aksrustagi/coordinator/signal"
)

// Signal types understood by the draft.
const (
	TypeMakePick    = "makePick"
	TypePauseDraft  = "pauseDraft"
	TypeResumeDraft = "resumeDraft"
	TypeSkipPick    = "skipPick"
)

// Signal is one of MakePick, PauseDraft, ResumeDraft or SkipPick.
type Signal interface {
	draftSignal()
}

// MakePick selects a player for the team on the clock.
type MakePick struct {
	TeamID   string `json:"team_id"`
	PlayerID string `json:"player_id"`
}

// PauseDraft stops the clock. The open turn timer is abandoned.
type PauseDraft struct{}

// ResumeDraft restarts a paused draft with a fresh turn timer.
type ResumeDraft struct{}

// SkipPick auto-selects for the team on the clock. It is ignored unless
// TeamID is on the clock.
type SkipPick struct {
	TeamID string `json:"team_id"`
}

func (MakePick) draftSignal()    {}
func (PauseDraft) draftSignal()  {}
func (ResumeDraft) draftSignal() {}
func (SkipPick) draftSignal()    {}

// Encode returns the type and payload to publish for sig.
func Encode(sig Signal) (string, []byte, error) {
	var typ string
	switch sig.(type) {
	case MakePick:
		typ = TypeMakePick
	case PauseDraft:
		typ = TypePauseDraft
	case ResumeDraft:
		typ = TypeResumeDraft
	case SkipPick:
		typ = TypeSkipPick
	default:
		return "", nil, fmt.Errorf("draft: unknown signal %T", sig)
	}
	data, err := signal.Encode(sig)
	return typ, data, err
}

// Decode parses a published draft signal.
func Decode(signalType string, payload []byte) (Signal, error) {
	switch signalType {
	case TypeMakePick:
		return decode[MakePick](payload)
	case TypePauseDraft:
		return decode[PauseDraft](payload)
	case TypeResumeDraft:
		return decode[ResumeDraft](payload)
	case TypeSkipPick:
		return decode[SkipPick](payload)
	default:
		return nil, fmt.Errorf("draft: unknown signal type %q", signalType)
	}
}

func decode[T Signal](payload []byte) (Signal, error) {
	v, err := signal.Decode[T](payload)
	if err != nil {
		return nil, err
	}
	return v, nil
}
