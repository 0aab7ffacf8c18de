package models

import "hash/fnv"

// UserColors is the palette assigned to users who connect without a color.
var UserColors = []string{
	"#e74c3c",
	"#e67e22",
	"#f1c40f",
	"#2ecc71",
	"#1abc9c",
	"#3498db",
	"#9b59b6",
	"#e84393",
	"#16a085",
	"#d35400",
}

// ColorForUser picks a stable palette color for a user ID so the same user
// gets the same color across reconnects.
func ColorForUser(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return UserColors[int(h.Sum32())%len(UserColors)]
}
