package kefexcan

// RxFilter decides whether a received frame is queued for a client.
// Each attribute is only compared when its Match flag is set.
type RxFilter struct {
	ID       uint32
	Extended bool
	RTR      bool

	MatchID       bool
	MatchExtended bool
	MatchRTR      bool
}

// PassAll returns a filter that matches every frame.
func PassAll() RxFilter {
	return RxFilter{}
}

// PassOneID matches exactly one identifier with the given extended and RTR flags.
func PassOneID(id uint32, extended, rtr bool) RxFilter {
	return RxFilter{
		ID:            id,
		Extended:      extended,
		RTR:           rtr,
		MatchID:       true,
		MatchExtended: true,
		MatchRTR:      true,
	}
}

// DataOnly matches every non-RTR frame.
func DataOnly() RxFilter {
	return RxFilter{MatchRTR: true}
}

// Matches reports whether f passes the filter.
func (flt RxFilter) Matches(f RxFrame) bool {
	if flt.MatchID && flt.ID != f.ID {
		return false
	}
	if flt.MatchExtended && flt.Extended != f.Extended {
		return false
	}
	if flt.MatchRTR && flt.RTR != f.RTR {
		return false
	}
	return true
}
