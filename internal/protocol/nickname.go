package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxNicknameLength is the longest nickname accepted at handshake.
const MaxNicknameLength = 10

// ErrInvalidNickname is returned for a nickname that is empty, too long or
// not made of ASCII letters and digits only.
var ErrInvalidNickname = errors.New("protocol: invalid nickname")

// ParseNickname decodes a raw handshake line and trims trailing whitespace,
// the line delimiter included.
func ParseNickname(raw []byte) string {
	return strings.TrimRightFunc(DecodeText(raw), unicode.IsSpace)
}

// ValidateNickname checks length 1-10 and ASCII alphanumerics.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNickname)
	}
	if len(nickname) > MaxNicknameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidNickname, MaxNicknameLength)
	}
	for i := 0; i < len(nickname); i++ {
		if !isASCIIAlnum(nickname[i]) {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidNickname, nickname[i])
		}
	}
	return nil
}

func isASCIIAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
