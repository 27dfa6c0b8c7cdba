package entity

import "strconv"

// FormatID renders a user id the way it appears in tokens and JSON.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }

// ParseID is the inverse of FormatID.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
