// Package apps loads application definitions and builds the lobby behaviors
// they describe.
package apps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes one application type.
type Definition struct {
	Name        string
	Description string
	Polygamous  bool
	// MaxMembers caps the roster; zero means unlimited.
	MaxMembers int
	// PasswordProtected lobbies require a password at open and at join.
	PasswordProtected bool
	// Script is the path of the Lua script, empty for none.
	Script                 string
	ScriptInstructionLimit int
	// Commands maps lobby command names to Lua function names in Script.
	Commands map[string]string
}

type yamlAppFile struct {
	Application yamlApp `yaml:"application"`
}

type yamlApp struct {
	Name                   string            `yaml:"name"`
	Description            string            `yaml:"description"`
	Polygamous             bool              `yaml:"polygamous"`
	MaxMembers             int               `yaml:"max_members"`
	PasswordProtected      bool              `yaml:"password_protected"`
	Script                 string            `yaml:"script"`
	ScriptInstructionLimit int               `yaml:"script_instruction_limit"`
	Commands               map[string]string `yaml:"commands"`
}

// reservedCommands are handled by the protocol before lobby dispatch.
var reservedCommands = []string{"login", "quit", "application.list"}

// Chat returns the built-in chat application: polygamous rooms with no
// admission policy.
func Chat() *Definition {
	return &Definition{
		Name:        "chat",
		Description: "Chat rooms",
		Polygamous:  true,
	}
}

// LoadFromFile reads and validates one definition file. A relative script
// path is resolved against the file's directory.
//
// Precondition: path must point to a YAML application file.
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadFromFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading application file %s: %w", path, err)
	}
	def, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if def.Script != "" && !filepath.IsAbs(def.Script) {
		def.Script = filepath.Join(filepath.Dir(path), def.Script)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return def, nil
}

// LoadFromBytes parses and validates a definition from YAML bytes.
//
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadFromBytes(data []byte) (*Definition, error) {
	def, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validating application: %w", err)
	}
	return def, nil
}

// LoadDir loads every .yaml and .yml file in dir, ordered by file name.
//
// Postcondition: Returns an error on the first invalid file, on duplicate
// names, or when dir holds no definitions.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading application directory %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string)
	var defs []*Definition
	for _, name := range names {
		def, err := LoadFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading application from %s: %w", name, err)
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("application %q defined in both %s and %s", def.Name, prev, name)
		}
		seen[def.Name] = name
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no application files found in %s", dir)
	}
	return defs, nil
}

func parse(data []byte) (*Definition, error) {
	var file yamlAppFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing application YAML: %w", err)
	}
	ya := file.Application
	return &Definition{
		Name:                   strings.TrimSpace(ya.Name),
		Description:            strings.TrimSpace(ya.Description),
		Polygamous:             ya.Polygamous,
		MaxMembers:             ya.MaxMembers,
		PasswordProtected:      ya.PasswordProtected,
		Script:                 ya.Script,
		ScriptInstructionLimit: ya.ScriptInstructionLimit,
		Commands:               ya.Commands,
	}, nil
}

// Validate checks the definition, reporting every violation.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if d.MaxMembers < 0 {
		errs = append(errs, fmt.Errorf("max_members must be >= 0, got %d", d.MaxMembers))
	}
	if d.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Errorf("script_instruction_limit must be >= 0, got %d", d.ScriptInstructionLimit))
	}
	if len(d.Commands) > 0 && d.Script == "" {
		errs = append(errs, errors.New("commands require a script"))
	}
	for cmd, fn := range d.Commands {
		if reserved(cmd) {
			errs = append(errs, fmt.Errorf("command %q is reserved", cmd))
		}
		if fn == "" {
			errs = append(errs, fmt.Errorf("command %q has no function", cmd))
		}
	}
	return errors.Join(errs...)
}

func reserved(cmd string) bool {
	if cmd == "" || strings.HasPrefix(cmd, "lobby.") {
		return true
	}
	for _, r := range reservedCommands {
		if cmd == r {
			return true
		}
	}
	return false
}
