package capture

import (
	"errors"
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var ErrClipboardEmpty = errors.New("clipboard holds no text")

// Clipboard is a text source for pastes.
type Clipboard interface {
	ReadText() (string, error)
}

// SystemClipboard reads the desktop clipboard.
type SystemClipboard struct{}

var (
	clipInitOnce sync.Once
	clipInitErr  error
)

// NewSystemClipboard fails when no display is available (headless hosts).
func NewSystemClipboard() (SystemClipboard, error) {
	clipInitOnce.Do(func() { clipInitErr = clipboard.Init() })
	if clipInitErr != nil {
		return SystemClipboard{}, fmt.Errorf("clipboard unavailable: %w", clipInitErr)
	}
	return SystemClipboard{}, nil
}

func (SystemClipboard) ReadText() (string, error) {
	b := clipboard.Read(clipboard.FmtText)
	if len(b) == 0 {
		return "", ErrClipboardEmpty
	}
	return string(b), nil
}
