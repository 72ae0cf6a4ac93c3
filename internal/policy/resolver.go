package policy

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// DefaultTailLines is how many existing lines the log follower prints before following.
const DefaultTailLines = 10

// RequiredKeys must all be present at the top level of the policy document.
var RequiredKeys = []string{"prefix", "core", "profiles", "exceptions", "paging"}

// Document is the raw policy document as written by the operator.
type Document struct {
	Prefix     string              `yaml:"prefix"`
	Core       []string            `yaml:"core" validate:"dive,required"`
	Profiles   map[string][]string `yaml:"profiles" validate:"dive,keys,required,endkeys,required,dive,required"`
	Exceptions []string            `yaml:"exceptions" validate:"dive,required"`
	Paging     PagingDocument      `yaml:"paging"`
	Logs       LogsDocument        `yaml:"logs"`
	History    HistoryDocument     `yaml:"history"`
}

// PagingDocument is the paging section. An empty mapping disables paging.
type PagingDocument struct {
	ServiceName          string `yaml:"serviceName"`
	SettingsPath         string `yaml:"settingsPath" validate:"required_with=SettingsKey"`
	SettingsKey          string `yaml:"settingsKey" validate:"required_with=SettingsPath"`
	PageSize             int    `yaml:"pageSize" validate:"required_with=SettingsPath,gte=0"`
	EnforceFetchNext     bool   `yaml:"enforceFetchNext"`
	ResetOnProfileChange bool   `yaml:"resetOnProfileChange"`
}

// LogsDocument is the optional logs section.
type LogsDocument struct {
	AuditLog  string   `yaml:"auditLog"`
	Tail      []string `yaml:"tail" validate:"dive,required"`
	TailLines int      `yaml:"tailLines" validate:"gte=0"`
}

// HistoryDocument is the optional history section.
type HistoryDocument struct {
	Enabled *bool  `yaml:"enabled"`
	DataDir string `yaml:"dataDir"`
}

var validate = validator.New()

// Parse decodes a YAML or JSON policy document. Missing required keys and an empty
// prefix are fatal.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse policy document: top level must be a mapping")
	}

	mapping := root.Content[0]
	present := make(map[string]bool, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		present[mapping.Content[i].Value] = true
	}
	for _, key := range RequiredKeys {
		if !present[key] {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingKey, key)
		}
	}

	var doc Document
	if err := mapping.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy document: %w", err)
	}
	if doc.Prefix == "" {
		return nil, domain.ErrEmptyPrefix
	}
	if err := validate.Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid policy document: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	return &doc, nil
}

// Resolve normalizes a parsed document into a Configuration and lists advisory issues.
// Issues never block a run; the classifier and plan builder enforce the real rules.
func Resolve(doc *Document) (*domain.Configuration, []string) {
	cfg := &domain.Configuration{
		Prefix:     doc.Prefix,
		Core:       domain.NewServiceSet(doc.Core...),
		Profiles:   make(map[string]domain.ServiceSet, len(doc.Profiles)),
		Exceptions: domain.NewServiceSet(doc.Exceptions...),
		Paging: domain.PagingSpec{
			ServiceName:          doc.Paging.ServiceName,
			SettingsPath:         doc.Paging.SettingsPath,
			SettingsKey:          doc.Paging.SettingsKey,
			PageSize:             doc.Paging.PageSize,
			EnforceFetchNext:     doc.Paging.EnforceFetchNext,
			ResetOnProfileChange: doc.Paging.ResetOnProfileChange,
		},
		Logs: domain.LogSpec{
			AuditLog:  doc.Logs.AuditLog,
			Tail:      append([]string(nil), doc.Logs.Tail...),
			TailLines: doc.Logs.TailLines,
		},
		History: domain.HistorySpec{
			Enabled: doc.History.Enabled == nil || *doc.History.Enabled,
			DataDir: doc.History.DataDir,
		},
	}
	if cfg.Logs.TailLines == 0 {
		cfg.Logs.TailLines = DefaultTailLines
	}
	for name, members := range doc.Profiles {
		cfg.Profiles[name] = domain.NewServiceSet(members...)
	}

	var issues []string
	for _, name := range cfg.Core.Sorted() {
		if !MatchesPrefix(name, cfg.Prefix) {
			issues = append(issues, fmt.Sprintf("Core service '%s' does not start with prefix '%s' (will warn & skip at runtime)", name, cfg.Prefix))
		}
	}
	for _, profile := range cfg.ProfileNames() {
		for _, name := range cfg.Profiles[profile].Sorted() {
			if !MatchesPrefix(name, cfg.Prefix) {
				issues = append(issues, fmt.Sprintf("Profile '%s': service '%s' does not start with prefix '%s' (will warn & skip at runtime)", profile, name, cfg.Prefix))
			}
			if cfg.Core.Has(name) {
				issues = append(issues, fmt.Sprintf("Profile '%s': service '%s' is also in Core (will be skipped from Profile at runtime)", profile, name))
			}
		}
	}
	if cfg.Paging.Configured() && cfg.Paging.ServiceName == "" {
		issues = append(issues, "Paging has no serviceName (paging changes will not restart any service)")
	}
	return cfg, issues
}

// Load reads, parses and resolves the policy document at path. ~ paths inside the document
// are expanded through fs.
func Load(fs domain.FileStore, path string) (*domain.Configuration, []string, error) {
	data, err := fs.ReadText(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read policy document %s: %w", path, err)
	}
	doc, err := Parse(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if err != nil {
		return nil, nil, err
	}
	cfg, issues := Resolve(doc)
	cfg.Path = path

	cfg.Paging.SettingsPath = fs.ExpandHome(cfg.Paging.SettingsPath)
	if cfg.Logs.AuditLog == "" {
		cfg.Logs.AuditLog = path + ".log"
	}
	cfg.Logs.AuditLog = fs.ExpandHome(cfg.Logs.AuditLog)
	for i, p := range cfg.Logs.Tail {
		cfg.Logs.Tail[i] = fs.ExpandHome(p)
	}
	cfg.History.DataDir = fs.ExpandHome(cfg.History.DataDir)
	return cfg, issues, nil
}
