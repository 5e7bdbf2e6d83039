package events

import (
	"strconv"
	"strings"
)

// UserChannel is the redis channel carrying one user's inbox updates.
func UserChannel(userID int64) string {
	return ChannelPrefixUser + strconv.FormatInt(userID, 10)
}

// UserFromChannel extracts the user id from a user channel name.
func UserFromChannel(channel string) (int64, bool) {
	raw, ok := strings.CutPrefix(channel, ChannelPrefixUser)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
