package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
	"os"
	"sort"
	"strings"
)

var ErrChallengeNotFound = errors.New("challenge not found")

type Level int

const (
	LevelUnknown Level = iota
	LevelBasic
	LevelIntermediate
	LevelAdvanced
)

var levelNames = map[Level]string{
	LevelBasic:        "Basic",
	LevelIntermediate: "Intermediate",
	LevelAdvanced:     "Advanced",
}

func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return LevelUnknown, fmt.Errorf("unknown challenge level: %q", s)
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "Unknown"
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(s))
}

// Script is an ordered list of SQL script elements. Each element holds one
// statement or a whole delimited script; in YAML it is written either as a
// single block string or as a list.
type Script []string

func (s *Script) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var text string
		if err := value.Decode(&text); err != nil {
			return err
		}
		*s = nil
		if strings.TrimSpace(text) != "" {
			*s = Script{text}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: script must be a string or a list of strings", value.Line)
	}
}

// String joins the elements into one delimited script.
func (s Script) String() string {
	parts := make([]string, 0, len(s))
	for _, el := range s {
		el = strings.TrimSpace(el)
		if el == "" {
			continue
		}
		if !strings.HasSuffix(el, ";") {
			el += ";"
		}
		parts = append(parts, el)
	}
	return strings.Join(parts, "\n")
}

type Challenge struct {
	ID       int    `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Level    Level  `yaml:"level" json:"level"`
	Question string `yaml:"question" json:"question"`

	SchemaSQL Script `yaml:"schema_sql" json:"-"`
	SeedSQL   Script `yaml:"seed_sql" json:"-"`

	ExpectedColumnNames []string   `yaml:"expected_column_names" json:"expected_column_names"`
	ExpectedOutput      [][]string `yaml:"expected_output" json:"-"`

	Solution   string   `yaml:"solution" json:"-"`
	Restricted []string `yaml:"restricted" json:"restricted,omitempty"`
}

func (c *Challenge) Validate() error {
	if err := validation.ValidateStruct(
		c,
		validation.Field(&c.ID, validation.Required, validation.Min(1)),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Level, validation.Required, validation.In(LevelBasic, LevelIntermediate, LevelAdvanced)),
		validation.Field(&c.SchemaSQL, validation.Required),
	); err != nil {
		return err
	}

	width := len(c.ExpectedColumnNames)
	for i, row := range c.ExpectedOutput {
		if i == 0 && width == 0 {
			width = len(row)
		}
		if len(row) != width {
			return fmt.Errorf("expected_output row %d has %d cells, want %d", i, len(row), width)
		}
	}
	return nil
}

type Catalog struct {
	challenges []*Challenge
	byID       map[int]*Challenge
}

//go:embed challenges.yaml
var defaultCatalog []byte

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Challenges []*Challenge `yaml:"challenges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(doc.Challenges)
}

func New(challenges []*Challenge) (*Catalog, error) {
	c := &Catalog{
		challenges: make([]*Challenge, 0, len(challenges)),
		byID:       make(map[int]*Challenge, len(challenges)),
	}
	for _, ch := range challenges {
		if ch == nil {
			continue
		}
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("challenge %d: %w", ch.ID, err)
		}
		if _, ok := c.byID[ch.ID]; ok {
			return nil, fmt.Errorf("challenge %d: duplicate id", ch.ID)
		}
		c.byID[ch.ID] = ch
		c.challenges = append(c.challenges, ch)
	}

	sort.SliceStable(c.challenges, func(i, j int) bool {
		return less(c.challenges[i], c.challenges[j])
	})

	return c, nil
}

func less(a, b *Challenge) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	return a.ID < b.ID
}

func (c *Catalog) Find(id int) (*Challenge, error) {
	ch, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChallengeNotFound, id)
	}
	return ch, nil
}

// All returns every challenge, easiest first.
func (c *Catalog) All() []*Challenge {
	out := make([]*Challenge, len(c.challenges))
	copy(out, c.challenges)
	return out
}

func (c *Catalog) Len() int {
	return len(c.challenges)
}

// Next returns the easiest challenge whose id is not in solved, or nil when
// everything has been solved.
func (c *Catalog) Next(solved map[int]bool) *Challenge {
	for _, ch := range c.challenges {
		if !solved[ch.ID] {
			return ch
		}
	}
	return nil
}
