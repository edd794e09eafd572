// Package semverfilter hides package versions matching configured semver
// ranges from the metadata served to clients.
package semverfilter

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/storage"
)

// Name is the registry key of the plugin.
const Name = "semver-filter"

func init() {
	plugin.MustRegister(Name, New)
}

// Rule blocks every version of packages matching Package (a glob) that
// satisfies Range.
type Rule struct {
	Package string `mapstructure:"package"`
	Range   string `mapstructure:"range"`
}

// Config is decoded from the plugin's [Filter.Config] table.
type Config struct {
	Rules []Rule `mapstructure:"rules"`
}

type compiledRule struct {
	pattern    string
	constraint *semver.Constraints
}

// Filter implements plugin.Filter.
type Filter struct {
	rules  []compiledRule
	logger *logrus.Logger
}

// New compiles the configured rules; an invalid glob or range fails startup.
func New(raw map[string]any, params plugin.Params) (any, error) {
	var cfg Config
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	f := &Filter{logger: params.Logger}
	if f.logger == nil {
		f.logger = logrus.StandardLogger()
	}
	for i, rule := range cfg.Rules {
		if rule.Package == "" || rule.Range == "" {
			return nil, fmt.Errorf("rules[%d]: package and range are required", i)
		}
		if _, err := doublestar.Match(rule.Package, ""); err != nil {
			return nil, fmt.Errorf("rules[%d]: invalid package pattern %q: %w", i, rule.Package, err)
		}
		constraint, err := semver.NewConstraint(rule.Range)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: invalid range %q: %w", i, rule.Range, err)
		}
		f.rules = append(f.rules, compiledRule{pattern: rule.Package, constraint: constraint})
	}
	return f, nil
}

// FilterMetadata drops blocked versions and repairs dist-tags.
func (f *Filter) FilterMetadata(_ context.Context, manifest *storage.Manifest) (*storage.Manifest, error) {
	if manifest == nil {
		return nil, errors.New("manifest is nil")
	}

	var active []*semver.Constraints
	for _, rule := range f.rules {
		if matched, _ := doublestar.Match(rule.pattern, manifest.Name); matched {
			active = append(active, rule.constraint)
		}
	}
	if len(active) == 0 {
		return manifest, nil
	}

	removed := 0
	for key := range manifest.Versions {
		v, err := semver.NewVersion(key)
		if err != nil {
			continue
		}
		for _, constraint := range active {
			if constraint.Check(v) {
				delete(manifest.Versions, key)
				delete(manifest.Time, key)
				removed++
				break
			}
		}
	}
	if removed > 0 {
		manifest.NormalizeDistTags()
		f.logger.WithFields(logrus.Fields{
			"action":  "semver_filter",
			"package": manifest.Name,
			"removed": removed,
		}).Debug("versions filtered")
	}
	return manifest, nil
}
