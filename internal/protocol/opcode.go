package protocol

import "strconv"

// Opcode is the single-byte command discriminator prefixed to each
// client-to-server frame.
type Opcode byte

// Defined opcodes. Any other value is still a well-formed frame and is
// answered with an invalid-command reply.
const (
	OpList   Opcode = 1
	OpTo     Opcode = 2
	OpExcept Opcode = 3
	OpBan    Opcode = 4
	OpPing   Opcode = 5
	OpExit   Opcode = 6
	OpChat   Opcode = 7
)

// Known reports whether o is one of the defined opcodes.
func (o Opcode) Known() bool {
	return o >= OpList && o <= OpChat
}

func (o Opcode) String() string {
	switch o {
	case OpList:
		return "LIST"
	case OpTo:
		return "TO"
	case OpExcept:
		return "EXCEPT"
	case OpBan:
		return "BAN"
	case OpPing:
		return "PING"
	case OpExit:
		return "EXIT"
	case OpChat:
		return "CHAT"
	default:
		return "OP(" + strconv.Itoa(int(o)) + ")"
	}
}
