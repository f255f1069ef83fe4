package orders

// MovementReason is the closed set of causes recorded on a stock movement.
type MovementReason string

const (
	ReasonInitial      MovementReason = "INITIAL"
	ReasonReserve      MovementReason = "RESERVE"
	ReasonRelease      MovementReason = "RELEASE"
	ReasonFulfill      MovementReason = "FULFILL"
	ReasonManualAdjust MovementReason = "MANUAL_ADJUST"
)

func (r MovementReason) Valid() bool {
	switch r {
	case ReasonInitial, ReasonReserve, ReasonRelease, ReasonFulfill, ReasonManualAdjust:
		return true
	}
	return false
}
