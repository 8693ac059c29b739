package rules

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spaolacci/murmur3"
	"gopkg.in/yaml.v3"
)

// Wildcard is the identity whose rules apply to every principal.
const Wildcard = "*"

// DefaultRedactField is the result field redacted when
// the rule file does not configure any.
const DefaultRedactField = "tools"

// Posture is the decision taken when no rule matches.
type Posture string

// Various values of Posture.
const (
	PostureAllow Posture = "allow"
	PostureDeny  Posture = "deny"
)

type nameSet map[string]struct{}

// file is the on disk representation of a Set.
type file struct {
	Posture   Posture             `yaml:"posture"`
	Forbidden map[string][]string `yaml:"forbidden"`
	Allowed   map[string][]string `yaml:"allowed"`
	Redact    []string            `yaml:"redact"`
}

// A Set is an immutable rule set. It maps identities, or
// the Wildcard, to the names they are forbidden (or allowed) to use.
// The zero value is not usable: use NewSet, Parse or Load.
type Set struct {
	posture     Posture
	forbidden   map[string]nameSet
	allowed     map[string]nameSet
	redact      []string
	fingerprint string
}

// SetOption are options that can be given to NewSet().
type SetOption func(*file)

// OptSetPosture sets the posture of the set.
func OptSetPosture(p Posture) SetOption {
	return func(f *file) {
		f.Posture = p
	}
}

// OptSetForbidden adds names forbidden to the given identity.
func OptSetForbidden(identity string, names ...string) SetOption {
	return func(f *file) {
		if f.Forbidden == nil {
			f.Forbidden = map[string][]string{}
		}
		f.Forbidden[identity] = append(f.Forbidden[identity], names...)
	}
}

// OptSetAllowed adds names allowed to the given identity.
// It is only consulted when the posture is PostureDeny.
func OptSetAllowed(identity string, names ...string) SetOption {
	return func(f *file) {
		if f.Allowed == nil {
			f.Allowed = map[string][]string{}
		}
		f.Allowed[identity] = append(f.Allowed[identity], names...)
	}
}

// OptSetRedact sets the result fields to redact in responses.
func OptSetRedact(fields ...string) SetOption {
	return func(f *file) {
		f.Redact = fields
	}
}

// NewSet returns a new *Set built from the given options.
func NewSet(opts ...SetOption) (*Set, error) {

	f := file{}
	for _, o := range opts {
		o(&f)
	}

	return build(f)
}

// Parse parses the given yaml data into a *Set.
func Parse(data []byte) (*Set, error) {

	f := file{}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unable to decode rules: %w", err)
	}

	return build(f)
}

// Load reads and parses the rule file at the given path.
func Load(path string) (*Set, error) {

	data, err := os.ReadFile(path) // #nosec: G304
	if err != nil {
		return nil, fmt.Errorf("unable to read rules file '%s': %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file '%s': %w", path, err)
	}

	return s, nil
}

func build(f file) (*Set, error) {

	switch f.Posture {
	case "":
		f.Posture = PostureAllow
	case PostureAllow, PostureDeny:
	default:
		return nil, fmt.Errorf("invalid posture '%s': must be '%s' or '%s'", f.Posture, PostureAllow, PostureDeny)
	}

	forbidden, err := toNameSets("forbidden", f.Forbidden)
	if err != nil {
		return nil, err
	}

	allowed, err := toNameSets("allowed", f.Allowed)
	if err != nil {
		return nil, err
	}

	redact := []string{DefaultRedactField}
	if len(f.Redact) > 0 {
		redact = make([]string, 0, len(f.Redact))
		for _, r := range f.Redact {
			if r = strings.TrimSpace(r); r == "" {
				return nil, fmt.Errorf("invalid redact field: must not be empty")
			}
			if !slices.Contains(redact, r) {
				redact = append(redact, r)
			}
		}
	}

	s := &Set{
		posture:   f.Posture,
		forbidden: forbidden,
		allowed:   allowed,
		redact:    redact,
	}
	s.fingerprint = s.computeFingerprint()

	return s, nil
}

func toNameSets(section string, in map[string][]string) (map[string]nameSet, error) {

	out := make(map[string]nameSet, len(in))

	for identity, names := range in {

		if identity == "" {
			return nil, fmt.Errorf("invalid %s entry: identity must not be empty", section)
		}

		ns := make(nameSet, len(names))
		for _, n := range names {
			if n == "" {
				return nil, fmt.Errorf("invalid %s entry for '%s': name must not be empty", section, identity)
			}
			ns[n] = struct{}{}
		}

		out[identity] = ns
	}

	return out, nil
}

// Posture returns the posture of the set.
func (s *Set) Posture() Posture {
	return s.posture
}

// RedactFields returns the result fields to redact.
func (s *Set) RedactFields() []string {
	return slices.Clone(s.redact)
}

// Forbidden returns the sorted names forbidden to the given identity.
// This is the union of the Wildcard entry and the identity entry.
func (s *Set) Forbidden(identity string) []string {
	return union(s.forbidden, identity)
}

// Allowed returns the sorted names allowed to the given identity.
// This is the union of the Wildcard entry and the identity entry.
func (s *Set) Allowed(identity string) []string {
	return union(s.allowed, identity)
}

// IsForbidden returns true if name is forbidden to the given identity.
func (s *Set) IsForbidden(identity string, name string) bool {
	return contains(s.forbidden, identity, name)
}

// IsAllowed returns true if name is allowed to the given identity.
func (s *Set) IsAllowed(identity string, name string) bool {
	return contains(s.allowed, identity, name)
}

// HasForbidden returns true if anything is forbidden to the given identity.
func (s *Set) HasForbidden(identity string) bool {
	return len(s.forbidden[Wildcard]) > 0 || len(s.forbidden[identity]) > 0
}

// Identities returns the sorted identities the set has rules for.
func (s *Set) Identities() []string {

	ids := map[string]struct{}{}
	for k := range s.forbidden {
		ids[k] = struct{}{}
	}
	for k := range s.allowed {
		ids[k] = struct{}{}
	}

	return slices.Sorted(maps.Keys(ids))
}

// Fingerprint returns a stable hash of the content of the set.
// Two sets with the same rules have the same fingerprint.
func (s *Set) Fingerprint() string {
	return s.fingerprint
}

func (s *Set) computeFingerprint() string {

	var sb strings.Builder

	sb.WriteString("posture=")
	sb.WriteString(string(s.posture))
	sb.WriteByte('\n')

	write := func(section string, m map[string]nameSet) {
		for _, identity := range slices.Sorted(maps.Keys(m)) {
			sb.WriteString(section)
			sb.WriteByte(':')
			sb.WriteString(identity)
			sb.WriteByte('=')
			sb.WriteString(strings.Join(slices.Sorted(maps.Keys(m[identity])), ","))
			sb.WriteByte('\n')
		}
	}

	write("forbidden", s.forbidden)
	write("allowed", s.allowed)

	sb.WriteString("redact=")
	sb.WriteString(strings.Join(s.redact, ","))

	h1, h2 := murmur3.Sum128([]byte(sb.String()))

	return fmt.Sprintf("%016x%016x", h1, h2)
}

func union(m map[string]nameSet, identity string) []string {

	out := maps.Clone(m[Wildcard])
	if out == nil {
		out = nameSet{}
	}
	maps.Copy(out, m[identity])

	return slices.Sorted(maps.Keys(out))
}

func contains(m map[string]nameSet, identity string, name string) bool {

	if _, ok := m[Wildcard][name]; ok {
		return true
	}

	_, ok := m[identity][name]

	return ok
}
