// Package capabilities declares the interfaces the conversation engine
// expects from its host environment. None of them carry a behavioral
// contract beyond succeeding or reporting a reason; the engine never depends
// on how they are implemented.
package capabilities

import "github.com/go-go-golems/promptdesk/pkg/conversation"

// Clipboard copies and pastes text and images.
type Clipboard interface {
	CopyText(text string) error
	PasteText() (string, error)
	CopyImage(image *conversation.ImageContent) error
	PasteImage() (*conversation.ImageContent, error)
}

// Notifier surfaces short feedback ("copied", "saved") to the user.
type Notifier interface {
	Notify(message string) error
}

// HotkeyListener invokes the callback when the OS-level hotkey fires,
// typically to open a window.
type HotkeyListener interface {
	Listen(onTrigger func()) error
	Close() error
}

// SettingsStore provides the user's defaults.
type SettingsStore interface {
	DefaultModel() string
	DefaultPrompt() string
	UseStreaming() bool
	MaxTabs() int
}
