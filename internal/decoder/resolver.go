package decoder

import (
	"fmt"
	"regexp"
)

// RuleConfig overrides the decoders of topics matching Pattern. An empty list
// leaves that attribute to the next matching rule or the defaults.
type RuleConfig struct {
	Pattern string
	Key     []string
	Value   []string
}

type rule struct {
	pattern *regexp.Regexp
	key     []string
	value   []string
}

// Resolver maps a topic and attribute to the ordered decoder ids to try.
type Resolver struct {
	defaultKey   []string
	defaultValue []string
	rules        []rule
}

// NewResolver compiles rules and checks that every decoder id they or the
// defaults reference is registered.
func NewResolver(reg *Registry, defaultKey, defaultValue []string, rules []RuleConfig) (*Resolver, error) {
	res := &Resolver{
		defaultKey:   defaultKey,
		defaultValue: defaultValue,
	}

	check := func(where string, ids []string) error {
		for _, id := range ids {
			if _, ok := reg.Get(id); !ok {
				return fmt.Errorf("%s: unknown decoder %q", where, id)
			}
		}
		return nil
	}

	if err := check("default key decoders", defaultKey); err != nil {
		return nil, err
	}
	if err := check("default value decoders", defaultValue); err != nil {
		return nil, err
	}

	for _, rc := range rules {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("topic rule %q: %w", rc.Pattern, err)
		}
		if err := check(fmt.Sprintf("topic rule %q key decoders", rc.Pattern), rc.Key); err != nil {
			return nil, err
		}
		if err := check(fmt.Sprintf("topic rule %q value decoders", rc.Pattern), rc.Value); err != nil {
			return nil, err
		}
		res.rules = append(res.rules, rule{pattern: re, key: rc.Key, value: rc.Value})
	}

	return res, nil
}

// Resolve returns the decoder ids for attr of topic: those of the first rule
// that matches the topic and lists decoders for attr, else the defaults.
func (r *Resolver) Resolve(topic string, attr Attribute) []string {
	for _, rl := range r.rules {
		ids := rl.value
		if attr == Key {
			ids = rl.key
		}
		if len(ids) > 0 && rl.pattern.MatchString(topic) {
			return ids
		}
	}
	if attr == Key {
		return r.defaultKey
	}
	return r.defaultValue
}
