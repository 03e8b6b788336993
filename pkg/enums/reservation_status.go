package enums

// ReservationStatus tracks an inventory hold. held resolves exactly once.
type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "held"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

func (s ReservationStatus) String() string {
	return string(s)
}

func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusHeld, ReservationStatusCommitted, ReservationStatusReleased:
		return true
	}
	return false
}
