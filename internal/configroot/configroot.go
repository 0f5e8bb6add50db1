// Package configroot loads and validates the INSECA configuration root: a
// directory tree of build/install/format/domain/repo configurations plus
// one inseca.json global settings file, grounded on
// original_source/lib/Configurations.py's GlobalConfiguration and
// ConfigInterface hierarchy.
package configroot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/insecakey/inseca/internal/insecaerr"
	"gopkg.in/yaml.v3"
)

// decodeConfigFile unmarshals raw into out, picking the decoder from path's
// extension: a configuration root operator may author any configuration
// file as YAML instead of JSON (a common admin-environment authoring
// preference, YAML supports comments that plain JSON doesn't) and both
// are accepted uniformly everywhere a configuration file is read.
func decodeConfigFile(path string, raw []byte, out any) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, out)
	default:
		return json.Unmarshal(raw, out)
	}
}

// Kind is the sum-type discriminant over the five configuration kinds,
// per Configurations.py's BuildConfig/InstallConfig/FormatConfig/
// DomainConfig/RepoConfig classes.
type Kind string

const (
	KindBuild   Kind = "build"
	KindInstall Kind = "install"
	KindFormat  Kind = "format"
	KindDomain  Kind = "domain"
	KindRepo    Kind = "repo"
)

var allKinds = []Kind{KindBuild, KindInstall, KindFormat, KindDomain, KindRepo}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func yamlVariant(jsonPath string) string {
	return strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath)) + ".yaml"
}

func (k Kind) dirName() string { return string(k) + "-configurations" }
func (k Kind) fileName() string {
	if k == KindRepo {
		return "repo-configuration.json"
	}
	return string(k) + "-configuration.json"
}

// Status reports a configuration's validity, per Configurations.py's
// ConfigStatus dataclass.
type Status struct {
	Valid    bool
	Warnings []string
	Errors   []string
	Todo     []string
}

// Config is one loaded configuration file, generic over Kind -- the Go
// analogue of ConfigInterface plus its five concrete subclasses,
// collapsed into one struct since none of the per-kind behavior beyond
// field shape and cross-references is exercised outside internal/installer.
type Config struct {
	Kind       Kind
	ID         string
	Descr      string
	RepoID     string // empty if this kind/instance has none
	ConfigFile string
	Data       map[string]any // the full parsed JSON, for kind-specific fields
}

// ConfigDir is the directory holding this configuration's file and any
// sibling artifacts (keys, templates).
func (c *Config) ConfigDir() string { return filepath.Dir(c.ConfigFile) }

// References lists the IDs of other configurations this one depends on:
// its repo (if any) plus any entries found in Data["references"], a
// simplification of the kind-specific get_referenced_configurations()
// methods (e.g. InstallConfig referencing a build, a format and a domain
// config by ID).
func (c *Config) References() []string {
	var refs []string
	if c.RepoID != "" {
		refs = append(refs, c.RepoID)
	}
	if raw, ok := c.Data["references"].([]any); ok {
		for _, v := range raw {
			if id, ok := v.(string); ok {
				refs = append(refs, id)
			}
		}
	}
	return refs
}

// Status performs the structural checks common to every kind: non-empty
// ID/description and well-formed (non-dangling is checked at Root level
// since it needs sibling configs).
func (c *Config) Status() Status {
	var errs []string
	if c.ID == "" {
		errs = append(errs, "missing \"id\"")
	}
	if c.Descr == "" {
		errs = append(errs, "missing \"descr\"")
	}
	return Status{Valid: len(errs) == 0, Errors: errs}
}

// Root is a loaded configuration tree, the Go analogue of
// GlobalConfiguration.
type Root struct {
	Path     string
	IsMaster bool
	configs  map[Kind]map[string]*Config
}

// requiredDirs are the top-level directories GlobalConfiguration.__init__
// insists on, even when the corresponding kind has zero configurations
// (e.g. a pure admin environment with no build-configurations).
var requiredDirs = []string{"install-configurations", "format-configurations", "repo-configurations", "domain-configurations"}

// Load reads and validates every configuration under path, enforcing
// global ID uniqueness (P10) across all kinds, per
// GlobalConfiguration.__init__'s _all_conf_ids bookkeeping.
func Load(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, "resolve configuration root path", err)
	}
	for _, d := range requiredDirs {
		fi, err := os.Stat(filepath.Join(abs, d))
		if err != nil || !fi.IsDir() {
			return nil, insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("required directory %q is missing under %q", d, abs))
		}
	}

	globalFile := filepath.Join(abs, "inseca.json")
	if _, err := os.Stat(globalFile); err != nil {
		if alt := filepath.Join(abs, "inseca.yaml"); fileExists(alt) {
			globalFile = alt
		}
	}
	isMaster := true
	if raw, err := os.ReadFile(globalFile); err == nil {
		var global struct {
			IsMaster *bool `json:"is-master" yaml:"is-master"`
		}
		if err := decodeConfigFile(globalFile, raw, &global); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, "parse "+filepath.Base(globalFile), err)
		}
		if global.IsMaster != nil {
			isMaster = *global.IsMaster
		}
	}

	root := &Root{Path: abs, IsMaster: isMaster, configs: make(map[Kind]map[string]*Config)}
	allIDs := make(map[string]string) // id -> config file, to detect duplicates across and within a kind

	for _, kind := range allKinds {
		loaded, err := loadKind(abs, kind, allIDs)
		if err != nil {
			return nil, err
		}
		root.configs[kind] = loaded
	}
	return root, nil
}

func loadKind(rootPath string, kind Kind, allIDs map[string]string) (map[string]*Config, error) {
	dir := filepath.Join(rootPath, kind.dirName())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Config{}, nil
		}
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("list %q", dir), err)
	}

	result := make(map[string]*Config)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		confPath := filepath.Join(dir, entry.Name(), kind.fileName())
		if !fileExists(confPath) {
			if alt := yamlVariant(confPath); fileExists(alt) {
				confPath = alt
			}
		}
		raw, err := os.ReadFile(confPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // ignored, as the original warns and skips
			}
			return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("read %q", confPath), err)
		}
		var data map[string]any
		if err := decodeConfigFile(confPath, raw, &data); err != nil {
			return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("parse %q", confPath), err)
		}

		id, _ := data["id"].(string)
		descr, _ := data["descr"].(string)
		repoID, _ := data["repo-id"].(string)

		if existing, dup := allIDs[id]; dup && existing != confPath {
			return nil, insecaerr.New(insecaerr.KindDuplicateID, fmt.Sprintf("configuration id %q already used by %q (also found in %q)", id, existing, confPath))
		}
		allIDs[id] = confPath

		result[id] = &Config{Kind: kind, ID: id, Descr: descr, RepoID: repoID, ConfigFile: confPath, Data: data}
	}
	return result, nil
}

// IDs returns every configuration ID of the given kind, sorted by
// description then ID, matching GlobalConfiguration._sort_configs's
// presentation order.
func (r *Root) IDs(kind Kind) []string {
	configs := r.configs[kind]
	ids := make([]string, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := configs[ids[i]], configs[ids[j]]
		if a.Descr != b.Descr {
			return a.Descr < b.Descr
		}
		return a.ID < b.ID
	})
	return ids
}

// Get returns the configuration of the given kind and ID.
func (r *Root) Get(kind Kind, id string) (*Config, error) {
	if c, ok := r.configs[kind][id]; ok {
		return c, nil
	}
	return nil, insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("no %s configuration with id %q", kind, id))
}

// All returns every loaded configuration across all kinds.
func (r *Root) All() []*Config {
	var all []*Config
	for _, kind := range allKinds {
		for _, id := range r.IDs(kind) {
			all = append(all, r.configs[kind][id])
		}
	}
	return all
}

// ReferencedBy returns the configurations that reference c, the Go
// analogue of ConfigInterface.get_referenced_by_configurations.
func (r *Root) ReferencedBy(c *Config) []*Config {
	var out []*Config
	for _, other := range r.All() {
		if other.ID == c.ID {
			continue
		}
		for _, ref := range other.References() {
			if ref == c.ID {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// References resolves c's References() IDs against the root, erroring on
// any dangling reference (a configuration referencing a non-existent ID).
func (r *Root) References(c *Config) ([]*Config, error) {
	var out []*Config
	for _, refID := range c.References() {
		found := false
		for _, kind := range allKinds {
			if resolved, ok := r.configs[kind][refID]; ok {
				out = append(out, resolved)
				found = true
				break
			}
		}
		if !found {
			return nil, insecaerr.New(insecaerr.KindMissingReference, fmt.Sprintf("configuration %q references unknown id %q", c.ID, refID))
		}
	}
	return out, nil
}

// ValidateReferences checks that no reference dangles across every
// loaded configuration.
func (r *Root) ValidateReferences() error {
	for _, c := range r.All() {
		if _, err := r.References(c); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a configuration's directory, refusing if it is still
// referenced by a configuration not present in mustBeKept, mirroring
// ConfigInterface.remove(must_be_kept).
func (r *Root) Remove(c *Config, mustBeKept []*Config) error {
	kept := make(map[string]bool, len(mustBeKept))
	for _, k := range mustBeKept {
		kept[k.ID] = true
	}
	for _, dependent := range r.ReferencedBy(c) {
		if !kept[dependent.ID] {
			return insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("cannot remove %q: still referenced by %q", c.ID, dependent.ID))
		}
	}
	if err := os.RemoveAll(c.ConfigDir()); err != nil {
		return insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("remove configuration directory %q", c.ConfigDir()), err)
	}
	delete(r.configs[c.Kind], c.ID)
	return nil
}

// Clone copies a configuration's JSON file and sibling artifacts into a
// freshly named directory under the same kind, assigning it newID,
// mirroring ConfigInterface.clone's id-reassignment without the
// kind-specific key regeneration the original performs for build/install
// configs (left to internal/installer, which owns key material).
func (r *Root) Clone(c *Config, newID, descr string) (*Config, error) {
	if _, exists := r.configs[c.Kind][newID]; exists {
		return nil, insecaerr.New(insecaerr.KindDuplicateID, fmt.Sprintf("id %q already in use", newID))
	}
	newDir := filepath.Join(r.Path, c.Kind.dirName(), newID)
	if err := os.Mkdir(newDir, 0o700); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("create clone directory %q", newDir), err)
	}

	newData := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		newData[k] = v
	}
	newData["id"] = newID
	if descr != "" {
		newData["descr"] = descr
	}

	out, err := json.MarshalIndent(newData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cloned configuration: %w", err)
	}
	newFile := filepath.Join(newDir, c.Kind.fileName())
	if err := os.WriteFile(newFile, out, 0o600); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindInvalidConfig, fmt.Sprintf("write cloned configuration %q", newFile), err)
	}

	clone := &Config{Kind: c.Kind, ID: newID, Descr: fmt.Sprint(newData["descr"]), RepoID: c.RepoID, ConfigFile: newFile, Data: newData}
	r.configs[c.Kind][newID] = clone
	return clone, nil
}
