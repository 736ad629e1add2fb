package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Handshake rejection lines. Each is the only line the peer receives before
// the server closes the connection.
const (
	RoomFullLine         = "chatting room full. cannot connect"
	InvalidNicknameLine  = "nickname must be <= 10 characters, English only, no spaces or special chars"
	NicknameTakenLine    = "nickname already used by another user. cannot connect"
	ProhibitedNoticeLine = "You sent a prohibited message and will be disconnected."
	BanYourselfLine      = "Error: You cannot ban yourself."
	ExcludeYourselfLine  = "Error: You cannot exclude yourself."
	RateLimitedLine      = "Error: Rate limit exceeded, message discarded."
	FrameTooLargeLine    = "Error: Message too long, discarded."
	ListHeaderLine       = "Connected users:"
	welcomePrefix        = "[Welcome "
)

// Welcome is the banner sent to a client right after it was registered.
func Welcome(nickname, room, addr string, occupancy int) string {
	return fmt.Sprintf("%s%s to %s chat room at %s. There are %d users in the room.]",
		welcomePrefix, nickname, room, addr, occupancy)
}

// IsWelcome reports whether a handshake reply line is the welcome banner.
func IsWelcome(line string) bool {
	return strings.HasPrefix(line, welcomePrefix)
}

// Joined announces a new client to everyone else.
func Joined(nickname, ip string, port, occupancy int) string {
	return fmt.Sprintf("[%s joined from %s:%d. There are %d users in the room.]", nickname, ip, port, occupancy)
}

// Left announces a departure: exit, ban or disconnect.
func Left(nickname string, occupancy int) string {
	return fmt.Sprintf("[%s left the room. There are %d users now]", nickname, occupancy)
}

// Removed announces a moderation strike to the remaining clients.
func Removed(nickname string, occupancy int) string {
	return fmt.Sprintf("[%s was removed for prohibited message. %d users remain.]", nickname, occupancy)
}

// Banned tells the target who banned it.
func Banned(by string) string {
	return "you are banned by " + by
}

// Chat relays a broadcast message.
func Chat(sender, message string) string {
	return sender + "> " + message
}

// Direct relays a message sent with TO.
func Direct(sender, message string) string {
	return "from: " + sender + "> " + message
}

// UnknownUser reports a missing TO, EXCEPT or BAN target.
func UnknownUser(nickname string) string {
	return fmt.Sprintf("Error: User '%s' does not exist.", nickname)
}

// InvalidCommand reports an opcode outside the defined set.
func InvalidCommand(op Opcode) string {
	return fmt.Sprintf("Error: Invalid command (%d).", byte(op))
}

// RTT reports the server side of a PING round trip.
func RTT(elapsed time.Duration) string {
	return "RTT: " + elapsed.String()
}

// ListEntry is one row of a LIST reply.
type ListEntry struct {
	Nickname string
	IP       string
	Port     int
}

// List renders a LIST reply: the header then one row per client.
func List(entries []ListEntry) string {
	var b strings.Builder
	b.WriteString(ListHeaderLine)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s, %s, %d", e.Nickname, e.IP, e.Port)
	}
	return b.String()
}
