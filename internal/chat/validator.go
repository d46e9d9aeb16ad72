package chat

import (
	"unicode/utf8"

	"github.com/linkhub/realtime/internal/errs"
)

const (
	MaxMessageBytes = 4096 // 4KB max payload size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that message content (already trimmed by the
// caller) meets the platform's content requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return errs.Validationf("message content must not be empty")
	}
	if len(content) > MaxMessageBytes {
		return errs.Validationf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return errs.Validationf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return errs.Validationf("message contains invalid UTF-8")
	}
	return nil
}
