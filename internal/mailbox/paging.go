package mailbox

// SeqRange converts a newest-first page request into an ascending sequence
// range. ok is false when the page is empty and no fetch should be issued:
// an empty folder, a non-positive limit, or an offset past the end.
//
// An offset past the end deliberately yields an empty page. Clamping both
// bounds to 1 would return message 1 again for every page beyond the last.
func SeqRange(total uint32, limit, offset int) (start, end uint32, ok bool) {
	if total == 0 || limit <= 0 {
		return 0, 0, false
	}
	if offset < 0 {
		offset = 0
	}
	if uint64(offset) >= uint64(total) {
		return 0, 0, false
	}

	end = total - uint32(offset)
	if uint64(limit) >= uint64(end) {
		return 1, end, true
	}
	return end - uint32(limit) + 1, end, true
}
