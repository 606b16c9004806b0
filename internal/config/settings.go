package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Settings is the on-disk persisted-state blob described in spec §6.
// It is consumed strictly as an external collaborator: the core only
// reads and writes through this struct's JSON shape, which is stable
// across releases and must not gain a Go-idiomatic reshaping.
type Settings struct {
	LocalBlendFiles     []string                  `json:"localBlendFiles"`
	ListenForBroadcasts bool                      `json:"listenForBroadcasts"`
	LastVersion         string                    `json:"lastVersion"`
	History             []string                  `json:"history"`
	PastClients         map[string]PastClient     `json:"pastClients"`
	ProjectSettings     map[string]ProjectSetting `json:"projectSettings"`

	OptionAutoConnect     bool `json:"option_autoConnect"`
	OptionAutoSync        bool `json:"option_autoSync"`
	OptionCompressUploads bool `json:"option_compressUploads"`
	OptionWakeOnLAN       bool `json:"option_wakeOnLan"`
	OptionConfirmOnCancel bool `json:"option_confirmOnCancel"`
}

// PastClient remembers the identity of a node previously connected to,
// keyed by an opaque client id, so the UI can offer it again without a
// fresh broadcast discovery.
type PastClient struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	RenderType  string  `json:"renderType"`
	Performance float64 `json:"performance"`
	Pass        string  `json:"pass"`
	Mac         string  `json:"mac"`
}

// ProjectSetting remembers whether a given local project path should
// sync over a network share instead of direct upload, and the per-OS
// path variants to use when it does.
type ProjectSetting struct {
	UseNetworked   bool   `json:"useNetworked"`
	NetPathWindows string `json:"netPathWindows"`
	NetPathLinux   string `json:"netPathLinux"`
	NetPathMacOS   string `json:"netPathMacOS"`
}

// LoadSettings reads the persisted-state blob from path. A missing
// file is not an error: it returns a zero-value Settings, matching the
// first-run experience.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Settings{
			PastClients:     map[string]PastClient{},
			ProjectSettings: map[string]ProjectSetting{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if s.PastClients == nil {
		s.PastClients = map[string]PastClient{}
	}
	if s.ProjectSettings == nil {
		s.ProjectSettings = map[string]ProjectSetting{}
	}
	return &s, nil
}

// Save writes the settings blob back to path as indented JSON, the
// same shape LoadSettings expects to read.
func Save(path string, s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
