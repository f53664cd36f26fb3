// Package routeguard decides whether a client-side route may render given the
// current session, and where to send the user when it may not.
//
// Routes are classified against static glob tables. The guard itself is a
// small state machine driven by navigation and session changes.
package routeguard

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Class is the access class of a route
type Class string

const (
	ClassPublic    Class = "public"
	ClassAdminOnly Class = "adminOnly"
	ClassUserOnly  Class = "userOnly"
	ClassInvalid   Class = "invalid"
)

// Redirect targets
const (
	LoginPath    = "/auth/login"
	NotFoundPath = "/not-found"
	AdminHome    = "/admin/dashboard"
	UserHome     = "/users/dashboard"
)

// Table maps a class to the glob patterns that belong to it
type Table struct {
	Class    Class
	Patterns []string
}

// DefaultTables are the portal's routes
var DefaultTables = []Table{
	{
		Class: ClassPublic,
		Patterns: []string{
			"/",
			"/home",
			"/jobs",
			"/jobs/*",
			"/about",
			"/contact",
			LoginPath,
			"/auth/register",
			NotFoundPath,
		},
	},
	{
		Class: ClassAdminOnly,
		Patterns: []string{
			AdminHome,
			"/admin/jobs",
			"/admin/jobs/**",
			"/admin/applications",
			"/admin/applications/**",
			"/admin/users",
			"/admin/users/**",
			"/admin/profile",
		},
	},
	{
		Class: ClassUserOnly,
		Patterns: []string{
			UserHome,
			"/users/jobs",
			"/users/jobs/**",
			"/users/applications",
			"/users/applications/**",
			"/users/profile",
		},
	},
}

// Classifier assigns routes to classes
type Classifier struct {
	tables []Table
}

// NewClassifier validates the tables and returns a classifier for them.
// Every pattern must be well formed, and no path may belong to two classes.
func NewClassifier(tables []Table) (*Classifier, error) {
	for _, t := range tables {
		if t.Class == ClassInvalid || t.Class == "" {
			return nil, fmt.Errorf("table class %q cannot hold routes", t.Class)
		}
		for _, p := range t.Patterns {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("invalid pattern %q in %s table", p, t.Class)
			}
		}
	}

	c := &Classifier{tables: tables}
	if err := c.checkDisjoint(); err != nil {
		return nil, err
	}
	return c, nil
}

// checkDisjoint expands every pattern into a sample path and verifies the
// sample is claimed by its own class only
func (c *Classifier) checkDisjoint() error {
	for _, t := range c.tables {
		for _, p := range t.Patterns {
			for _, sample := range samplePaths(p) {
				for _, other := range c.tables {
					if other.Class == t.Class {
						continue
					}
					if c.matches(other, sample) {
						return fmt.Errorf("path %q matches both %s and %s", sample, t.Class, other.Class)
					}
				}
			}
		}
	}
	return nil
}

func samplePaths(pattern string) []string {
	if !strings.ContainsAny(pattern, "*?[{") {
		return []string{pattern}
	}
	deep := strings.ReplaceAll(pattern, "**", "a/b")
	shallow := strings.ReplaceAll(pattern, "/**", "")
	r := strings.NewReplacer("*", "x", "?", "x")
	return []string{r.Replace(deep), r.Replace(shallow)}
}

// Classify returns the class of a route. Query strings, fragments and
// trailing slashes are ignored. Anything not in a table is invalid.
func (c *Classifier) Classify(route string) Class {
	p, ok := normalize(route)
	if !ok {
		return ClassInvalid
	}
	for _, t := range c.tables {
		if c.matches(t, p) {
			return t.Class
		}
	}
	return ClassInvalid
}

func (c *Classifier) matches(t Table, p string) bool {
	for _, pattern := range t.Patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func normalize(route string) (string, bool) {
	u, err := url.Parse(route)
	if err != nil || u.Path == "" || !strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	return path.Clean(u.Path), true
}

var defaultClassifier = mustClassifier(DefaultTables)

func mustClassifier(tables []Table) *Classifier {
	c, err := NewClassifier(tables)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify classifies a route against DefaultTables
func Classify(route string) Class {
	return defaultClassifier.Classify(route)
}
