// Package server implements the HTTP and WebSocket surface of chatterbox.
//
// The Hub is the room session manager: it owns every live connection,
// serialises join, leave, message and typing handling through a single
// loop, and fans events out to the connections joined to a room. The REST
// handlers cover accounts, room reads and, in dynamic room mode, room
// management.
package server
