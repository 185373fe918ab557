package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the interactive progress view.
type KeyMap struct {
	// Toggle the list of recent files
	Files key.Binding

	// Help toggle
	Help key.Binding

	// Stop the run; a second press leaves without waiting
	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Files: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "toggle files"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "stop"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Help}
}

// FullHelp returns all keybindings for the expanded help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Files, k.Help, k.Quit},
	}
}
