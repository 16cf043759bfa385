package transfer

// Percentage returns floor(sent*100/total), 0 when total is 0, clamped to [0, 100].
func Percentage(sent, total int64) int {
	if total <= 0 || sent <= 0 {
		return 0
	}
	if sent >= total {
		return 100
	}
	return int(sent * 100 / total)
}
