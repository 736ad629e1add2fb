// Package protocol implements the GoChat line protocol shared by the server
// and its clients.
//
// Client-to-server frames are one opcode byte followed by a UTF-8 payload and
// a newline. Server-to-client traffic is plain UTF-8 text, one message per
// line. The very first line a client sends is its raw nickname, without an
// opcode byte.
package protocol
