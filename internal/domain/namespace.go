package domain

import (
	"fmt"
	"sort"
)

// maxKeySuffix bounds the numbered alternatives tried for a colliding key.
const maxKeySuffix = 99

// UniqueAttributeNames returns a copy of attrs in which every key that
// collides with a reserved key is renamed to "{prefix}-{key}", or to
// "{prefix}-{key}_N" for the first free N in 1..99. Every value of attrs is
// present in the result under exactly one key.
func UniqueAttributeNames(reserved []string, attrs Attributes, prefix string) (Attributes, error) {
	taken := make(map[string]struct{}, len(reserved)+len(attrs))
	for _, k := range reserved {
		taken[k] = struct{}{}
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Attributes, len(attrs))
	var colliding []string
	for _, k := range keys {
		if _, ok := taken[k]; ok {
			colliding = append(colliding, k)
			continue
		}
		out[k] = attrs[k]
	}
	for k := range out {
		taken[k] = struct{}{}
	}

	for _, k := range colliding {
		renamed, err := uniqueKey(k, prefix, taken)
		if err != nil {
			return nil, err
		}
		out[renamed] = attrs[k]
		taken[renamed] = struct{}{}
	}
	return out, nil
}

func uniqueKey(key, prefix string, taken map[string]struct{}) (string, error) {
	candidate := prefix + "-" + key
	if _, ok := taken[candidate]; !ok {
		return candidate, nil
	}
	for i := 1; i <= maxKeySuffix; i++ {
		numbered := fmt.Sprintf("%s_%d", candidate, i)
		if _, ok := taken[numbered]; !ok {
			return numbered, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q with prefix %q", ErrKeySpaceExhausted, key, prefix)
}
