package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every lookup failure.
var ErrNotFound = errors.New("not found")

var (
	ErrThreadNotFound   = fmt.Errorf("thread %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
	ErrCallNotFound     = fmt.Errorf("call %w", ErrNotFound)
	ErrRuleNotFound     = fmt.Errorf("follow-up rule %w", ErrNotFound)
)

// ErrInvalidChannel is returned when a message is sent on a channel that
// cannot carry broker text messages.
var ErrInvalidChannel = errors.New("invalid channel")
