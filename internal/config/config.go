// Package config loads the migration run configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML run configuration. Every field can be overridden by
// the corresponding CLI flag; flags win over the file.
type Config struct {
	// Zotero library identity and credentials.
	APIKey      string `yaml:"api_key,omitempty"`
	LibraryID   string `yaml:"library_id,omitempty"`
	LibraryType string `yaml:"library_type,omitempty"`

	// Papers2 source library.
	PapersFolder string `yaml:"papers_folder,omitempty"`

	// Collection selection: an explicit list, or none at all.
	Collections   []string `yaml:"collections,omitempty"`
	NoCollections bool     `yaml:"no_collections,omitempty"`

	// Keyword kinds to convert into tags: user, auto, label.
	KeywordTypes []string `yaml:"keyword_types,omitempty"`

	// Label color to tag overrides; colors absent here get the
	// "<prefix><color>" default.
	LabelMap       map[string]string `yaml:"label_map,omitempty"`
	LabelTagPrefix string            `yaml:"label_tag_prefix,omitempty"`

	BatchSize      int    `yaml:"batch_size,omitempty"`
	CheckpointFile string `yaml:"checkpoint_file,omitempty"`
	ErrorsFile     string `yaml:"errors_file,omitempty"`

	// Attachment policy: all, unread, none.
	Attachments string `yaml:"attachments,omitempty"`

	// Linked-attachment relocation.
	AttachmentLinkBase string `yaml:"attachment_link_base,omitempty"`
	AttachmentCloud    string `yaml:"attachment_cloud,omitempty"` // "" = local filesystem, "gdrive"
	CloudAuthSettings  string `yaml:"cloud_auth_settings,omitempty"`
	CloudTokenFile     string `yaml:"cloud_token_file,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// Defaults returns a config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		LibraryType:       "user",
		PapersFolder:      "~/Papers2",
		KeywordTypes:      []string{"user", "label", "auto"},
		LabelTagPrefix:    "Label",
		BatchSize:         50,
		CheckpointFile:    "papers2zotero.json",
		ErrorsFile:        "papers2zotero_errors.log",
		Attachments:       "all",
		CloudAuthSettings: "credentials.json",
		CloudTokenFile:    "token.json",
		LogLevel:          "warn",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// BuildLabelMap expands the configured label overrides into a complete
// color-to-tag mapping. Colors without an override get "<prefix><color>";
// the "None" color never contributes a tag.
func (c Config) BuildLabelMap(labelNames []string) map[string]string {
	m := make(map[string]string, len(labelNames))
	for _, name := range labelNames {
		if name == "None" {
			m[name] = ""
			continue
		}
		if tag, ok := c.LabelMap[name]; ok {
			m[name] = tag
			continue
		}
		m[name] = c.LabelTagPrefix + name
	}
	return m
}
