package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/fedra/internal/errors"
)

// MemberType identifies the kind of federation member.
type MemberType string

const (
	// MemberSparqlEndpoint is a remote SPARQL 1.1 protocol endpoint.
	MemberSparqlEndpoint MemberType = "SparqlEndpoint"
	// MemberRemoteRepository is a remote RDF repository with a SPARQL surface.
	MemberRemoteRepository MemberType = "RemoteRepository"
	// MemberNativeStore is a co-located on-disk triple store.
	MemberNativeStore MemberType = "NativeStore"
	// MemberRemoteResolvable is a remote location resolved at initialize time.
	MemberRemoteResolvable MemberType = "RemoteResolvable"
)

var memberTypes = map[MemberType]bool{
	MemberSparqlEndpoint:   true,
	MemberRemoteRepository: true,
	MemberNativeStore:      true,
	MemberRemoteResolvable: true,
}

// Member describes one federation member.
type Member struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Type     MemberType `yaml:"type"`
	Location string     `yaml:"location"`

	// SupportsAskQueries controls the source selection probe form for
	// SPARQL endpoints; endpoints without ASK get SELECT ... LIMIT 1.
	SupportsAskQueries *bool `yaml:"supportsAskQueries,omitempty"`

	// Writable marks the member as accepting writes. The engine never
	// writes; the flag is carried for tooling.
	Writable bool `yaml:"writable,omitempty"`
}

// SupportsAsk reports the effective ASK capability (default true).
func (m *Member) SupportsAsk() bool {
	return m.SupportsAskQueries == nil || *m.SupportsAskQueries
}

// Validate checks a single member description.
func (m *Member) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.NewConfig("members.id", "member id must not be empty")
	}
	if !memberTypes[m.Type] {
		return errors.NewConfig("members.type",
			fmt.Sprintf("member %q has unknown type %q", m.ID, m.Type))
	}
	if strings.TrimSpace(m.Location) == "" {
		return errors.NewConfig("members.location",
			fmt.Sprintf("member %q has no location", m.ID))
	}
	switch m.Type {
	case MemberSparqlEndpoint, MemberRemoteRepository, MemberRemoteResolvable:
		if !strings.HasPrefix(m.Location, "http://") && !strings.HasPrefix(m.Location, "https://") {
			return errors.NewConfig("members.location",
				fmt.Sprintf("member %q: remote location must be an http(s) URL", m.ID))
		}
	}
	return nil
}

// Members is the parsed members file.
type Members struct {
	Members []Member `yaml:"members"`
}

// Validate checks all members and id uniqueness.
func (ms *Members) Validate() error {
	if len(ms.Members) == 0 {
		return errors.NewConfig("members", "no federation members configured")
	}
	seen := make(map[string]bool, len(ms.Members))
	for i := range ms.Members {
		m := &ms.Members[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.ID] {
			return errors.NewConfig("members.id", fmt.Sprintf("duplicate member id %q", m.ID))
		}
		seen[m.ID] = true
	}
	return nil
}

// LoadMembers reads and validates a federation members file.
func LoadMembers(path string) (*Members, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfig("members file", fmt.Sprintf("reading %s: %v", path, err))
	}
	return ParseMembers(data)
}

// ParseMembers parses and validates members file content.
func ParseMembers(data []byte) (*Members, error) {
	var ms Members
	if err := yaml.Unmarshal(data, &ms); err != nil {
		return nil, errors.NewConfig("members file", fmt.Sprintf("parsing YAML: %v", err))
	}
	if err := ms.Validate(); err != nil {
		return nil, err
	}
	return &ms, nil
}
