// Package roster reads the staff list used to provision a rating store.
package roster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/staffrate/internal/domain/model"
)

// Sentinel kinds for roster errors.
var (
	ErrInvalidRoster = errors.New("invalid roster")
	ErrDuplicateID   = errors.New("duplicate staff id")
)

// Member is one roster entry.
type Member struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Photo       string `yaml:"photo"`
	Description string `yaml:"description"`
}

type document struct {
	Staff []Member `yaml:"staff"`
}

// Parse decodes a roster document:
//
//	staff:
//	  - id: "1"
//	    name: Ann
//	    photo: img/ann.jpg
//	    description: Barista since 2019
//
// Entities come back in id order with zero counters.
func Parse(r io.Reader) ([]model.Entity, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoster, err)
	}

	seen := make(map[string]struct{}, len(doc.Staff))
	entities := make([]model.Entity, 0, len(doc.Staff))
	for i, m := range doc.Staff {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidRoster, i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		entities = append(entities, model.Entity{
			ID:          id,
			Name:        strings.TrimSpace(m.Name),
			PhotoRef:    m.Photo,
			Description: m.Description,
		})
	}
	model.SortEntities(entities)
	return entities, nil
}

// Load reads and parses the roster file at path.
func Load(path string) ([]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}
