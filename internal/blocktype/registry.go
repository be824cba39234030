// Package blocktype maps block types ("eksamen", "fullBlock", ...) to the
// directory group that enforces them.
package blocktype

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrUnknownType = errors.New("unknown block type")

type Entry struct {
	Type    string `yaml:"type"`
	GroupID string `yaml:"groupId"`
}

type File struct {
	Types []Entry `yaml:"types"`
}

type Registry struct {
	mu     sync.RWMutex
	groups map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]string),
	}
}

// FromMap builds a registry from a type to group id map.
func FromMap(groups map[string]string) *Registry {
	r := NewRegistry()
	for blockType, groupID := range groups {
		r.Register(blockType, groupID)
	}
	return r
}

// LoadFile registers every entry of a YAML mapping file, replacing existing
// entries of the same type.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read block types: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse block types: %w", err)
	}

	for _, e := range file.Types {
		if e.Type == "" || e.GroupID == "" {
			return fmt.Errorf("block types file %s: entry needs both type and groupId", path)
		}
		r.Register(e.Type, e.GroupID)
	}
	return nil
}

func (r *Registry) Register(blockType, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[blockType] = groupID
}

// GroupID resolves a block type. Unknown types return ErrUnknownType.
func (r *Registry) GroupID(blockType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groupID, ok := r.groups[blockType]
	if !ok || groupID == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, blockType)
	}
	return groupID, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.groups))
	for t := range r.groups {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
