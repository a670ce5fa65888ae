package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MaxEmailLength is the RFC 5321 limit.
const MaxEmailLength = 320

// Email checks that addr is a single bare address such as buyer@example.com.
func Email(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("e-mail address cannot be empty")
	}
	if n := utf8.RuneCountInString(addr); n > MaxEmailLength {
		return fmt.Errorf("e-mail address exceeds %d characters (got %d)", MaxEmailLength, n)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return fmt.Errorf("invalid e-mail address %q", addr)
	}
	if !strings.Contains(addr[strings.LastIndex(addr, "@")+1:], ".") {
		return fmt.Errorf("invalid e-mail address %q: domain has no dot", addr)
	}
	return nil
}
