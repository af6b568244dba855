package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/fleetflow/broker-comms/internal/model"
)

const maxContentBytes = 100000

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateChannel checks that a broker can send text on c.
func ValidateChannel(c model.Channel) error {
	if !c.IsSendable() {
		return errors.New("channel must be email, sms or whatsapp")
	}
	return nil
}

// ValidateID validates a path identifier such as a thread or call ID.
func ValidateID(id string) error {
	if len(id) == 0 {
		return errors.New("id cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("id exceeds maximum length")
	}
	return nil
}

// ValidatePhoneNumber validates a dialled number.
func ValidatePhoneNumber(number string) error {
	if len(number) == 0 {
		return errors.New("to_number cannot be empty")
	}
	if len(number) > 32 {
		return errors.New("to_number exceeds maximum length")
	}
	return nil
}

// ValidateScript validates an optional call script.
func ValidateScript(script string) error {
	if len(script) > 4000 {
		return errors.New("script exceeds maximum length")
	}
	if !utf8.ValidString(script) {
		return errors.New("script must be valid UTF-8")
	}
	return nil
}
