// Package access decides whether an identity may read or write a room.
//
// Every function here is pure: it looks only at the room snapshot and the
// identity it is given. Callers are responsible for passing a snapshot
// fresh enough for the decision they make; the presence index is never an
// input.
package access

import (
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// CanAccess reports whether userID holding rl may read and write room.
//
// The rules form an ordered cascade and the first match decides:
//
//  1. explicit members are always allowed;
//  2. when the room lists allowed roles, a PRIVATE room admits only the
//     admin tier and a PUBLIC room admits exactly the listed roles;
//  3. with no role restriction, only PUBLIC rooms are open;
//  4. everything else is denied.
func CanAccess(userID string, rl role.Role, room *chat.Room) bool {
	if room == nil {
		return false
	}
	if userID != "" && room.HasMember(userID) {
		return true
	}
	if len(room.AllowedRoles) > 0 {
		if room.Visibility == chat.Private {
			return rl.Elevated()
		}
		return room.Visibility == chat.Public && room.AllowsRole(rl)
	}
	return room.Visibility == chat.Public
}

// Allowed is CanAccess for a resolved identity.
func Allowed(id chat.Identity, room *chat.Room) bool {
	return CanAccess(id.UserID, id.Role, room)
}

// Check returns chat.ErrAccessDenied when id may not use room.
func Check(id chat.Identity, room *chat.Room) error {
	if !Allowed(id, room) {
		return chat.ErrAccessDenied
	}
	return nil
}

// CanManage reports whether id may edit, delete, or change membership of
// room: its creator or any admin-tier identity.
func CanManage(id chat.Identity, room *chat.Room) bool {
	if room == nil {
		return false
	}
	if id.UserID != "" && room.CreatedBy == id.UserID {
		return true
	}
	return id.Role.Elevated()
}

// RequireRole returns chat.ErrAccessDenied unless id holds at least min.
func RequireRole(id chat.Identity, min role.Role) error {
	if !id.Role.AtLeast(min) {
		return chat.ErrAccessDenied
	}
	return nil
}
