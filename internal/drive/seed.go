package drive

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"drivemirror/internal/mirror"
)

// seedFile is the YAML layout of a memory drive listing:
//
//	files:
//	  - id: root
//	    name: Shared
//	    owners: [{emailAddress: owner@example.com}]
//	  - id: doc
//	    parents: [root]
//	    permissions:
//	      - {id: p1, type: user, role: reader, user: {emailAddress: a@example.com}}
type seedFile struct {
	Files []*mirror.File `yaml:"files"`
}

// ReadSeed decodes a YAML listing.
func ReadSeed(r io.Reader) ([]*mirror.File, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	for i, f := range seed.Files {
		if f == nil || f.ID == "" {
			return nil, fmt.Errorf("seed file %d: id required", i)
		}
	}
	return seed.Files, nil
}

// ReadSeedFile decodes the YAML listing at path.
func ReadSeedFile(path string) ([]*mirror.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed: %w", err)
	}
	defer f.Close()
	return ReadSeed(f)
}
