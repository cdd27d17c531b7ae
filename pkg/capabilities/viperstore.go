package capabilities

import (
	"github.com/spf13/viper"

	"github.com/go-go-golems/promptdesk/pkg/tabs"
)

// ViperStore is a SettingsStore backed by a viper instance, usually the one
// the CLI entry point configured from flags, environment and config file.
type ViperStore struct {
	v *viper.Viper
}

var _ SettingsStore = &ViperStore{}

func NewViperStore(v *viper.Viper) *ViperStore {
	if v == nil {
		v = viper.GetViper()
	}
	v.SetDefault("model", "")
	v.SetDefault("prompt", "")
	v.SetDefault("streaming", true)
	v.SetDefault("max-tabs", tabs.DefaultMaxTabs)
	return &ViperStore{v: v}
}

func (s *ViperStore) DefaultModel() string {
	return s.v.GetString("model")
}

func (s *ViperStore) DefaultPrompt() string {
	return s.v.GetString("prompt")
}

func (s *ViperStore) UseStreaming() bool {
	return s.v.GetBool("streaming")
}

func (s *ViperStore) MaxTabs() int {
	return s.v.GetInt("max-tabs")
}
