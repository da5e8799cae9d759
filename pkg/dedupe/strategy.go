package dedupe

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Strategy names how duplicate values of one field are combined.
type Strategy string

const (
	StrategySum            Strategy = "sum"
	StrategyMax            Strategy = "max"
	StrategyFirst          Strategy = "first"
	StrategyLongest        Strategy = "longest"
	StrategyPreferNonEmpty Strategy = "prefer_non_empty"
	StrategyUnion          Strategy = "union"
)

// DefaultFieldStrategies reproduces the historical merge behavior: counters
// add up, free text keeps the longest variant, lists are unioned.
var DefaultFieldStrategies = map[string]Strategy{
	"likes":        StrategySum,
	"downloads":    StrategySum,
	"stars":        StrategyMax,
	"forks":        StrategyMax,
	"velocity":     StrategyMax,
	"title":        StrategyPreferNonEmpty,
	"description":  StrategyLongest,
	"body_content": StrategyLongest,
	"author":       StrategyPreferNonEmpty,
	"license":      StrategyPreferNonEmpty,
	"image_url":    StrategyPreferNonEmpty,
	"source_url":   StrategyPreferNonEmpty,
	"tags":         StrategyUnion,
	"relations":    StrategyUnion,
	"assets":       StrategyUnion,
}

type fieldKind int

const (
	kindInt fieldKind = iota
	kindOptionalInt
	kindFloat
	kindString
	kindList
)

var allowed = map[fieldKind][]Strategy{
	kindInt:         {StrategySum, StrategyMax, StrategyFirst},
	kindOptionalInt: {StrategySum, StrategyMax, StrategyFirst},
	kindFloat:       {StrategySum, StrategyMax, StrategyFirst},
	kindString:      {StrategyLongest, StrategyPreferNonEmpty, StrategyFirst},
	kindList:        {StrategyUnion, StrategyFirst},
}

var intFields = map[string]func(*entity.Entity) *int64{
	"likes":     func(e *entity.Entity) *int64 { return &e.Metrics.Likes },
	"downloads": func(e *entity.Entity) *int64 { return &e.Metrics.Downloads },
}

var optionalIntFields = map[string]func(*entity.Entity) **int64{
	"stars": func(e *entity.Entity) **int64 { return &e.Metrics.Stars },
	"forks": func(e *entity.Entity) **int64 { return &e.Metrics.Forks },
}

var floatFields = map[string]func(*entity.Entity) *float64{
	"velocity": func(e *entity.Entity) *float64 { return &e.Metrics.Velocity },
}

var stringFields = map[string]func(*entity.Entity) *string{
	"title":        func(e *entity.Entity) *string { return &e.Title },
	"description":  func(e *entity.Entity) *string { return &e.Description },
	"body_content": func(e *entity.Entity) *string { return &e.BodyContent },
	"author":       func(e *entity.Entity) *string { return &e.Author },
	"license":      func(e *entity.Entity) *string { return &e.License },
	"image_url":    func(e *entity.Entity) *string { return &e.ImageURL },
	"source_url":   func(e *entity.Entity) *string { return &e.SourceURL },
}

var listFields = map[string]func(dst, src *entity.Entity){
	"tags": func(dst, src *entity.Entity) { dst.Tags = UnionTags(dst.Tags, src.Tags) },
	"relations": func(dst, src *entity.Entity) {
		dst.Relations = unionBy(dst.Relations, src.Relations, func(r entity.Relation) string {
			return string(r.Type) + "|" + r.Target
		})
	},
	"assets": func(dst, src *entity.Entity) {
		dst.Assets = unionBy(dst.Assets, src.Assets, func(a entity.Asset) string { return a.URL })
	},
}

func kindOf(field string) (fieldKind, bool) {
	if _, ok := intFields[field]; ok {
		return kindInt, true
	}
	if _, ok := optionalIntFields[field]; ok {
		return kindOptionalInt, true
	}
	if _, ok := floatFields[field]; ok {
		return kindFloat, true
	}
	if _, ok := stringFields[field]; ok {
		return kindString, true
	}
	if _, ok := listFields[field]; ok {
		return kindList, true
	}
	return 0, false
}

// validateStrategy checks that s can be applied to field.
func validateStrategy(field string, s Strategy) error {
	kind, ok := kindOf(field)
	if !ok {
		return fmt.Errorf("unknown merge field %q", field)
	}
	for _, a := range allowed[kind] {
		if a == s {
			return nil
		}
	}
	return fmt.Errorf("strategy %q cannot be applied to field %q", s, field)
}

// mergeField folds src's value of field into dst.
func mergeField(field string, s Strategy, dst, src *entity.Entity) {
	if s == StrategyFirst {
		return
	}
	if get, ok := intFields[field]; ok {
		d, v := get(dst), *get(src)
		switch s {
		case StrategySum:
			*d += v
		case StrategyMax:
			if v > *d {
				*d = v
			}
		}
		return
	}
	if get, ok := optionalIntFields[field]; ok {
		d, v := get(dst), *get(src)
		if v == nil {
			return
		}
		if *d == nil {
			*d = entity.Int64(*v)
			return
		}
		switch s {
		case StrategySum:
			**d += *v
		case StrategyMax:
			if *v > **d {
				**d = *v
			}
		}
		return
	}
	if get, ok := floatFields[field]; ok {
		d, v := get(dst), *get(src)
		switch s {
		case StrategySum:
			*d += v
		case StrategyMax:
			if v > *d {
				*d = v
			}
		}
		return
	}
	if get, ok := stringFields[field]; ok {
		d, v := get(dst), *get(src)
		switch s {
		case StrategyLongest:
			if len(v) > len(*d) {
				*d = v
			}
		case StrategyPreferNonEmpty:
			if *d == "" {
				*d = v
			}
		}
		return
	}
	if merge, ok := listFields[field]; ok {
		merge(dst, src)
	}
}

// UnionTags appends the tags of b missing from a, keeping a's order first.
func UnionTags(a, b []string) []string {
	seen := mapset.NewThreadUnsafeSet[string](a...)
	out := append([]string(nil), a...)
	for _, t := range b {
		if seen.Add(t) {
			out = append(out, t)
		}
	}
	return out
}

func unionBy[T any](a, b []T, key func(T) string) []T {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, v := range a {
		seen.Add(key(v))
	}
	out := append([]T(nil), a...)
	for _, v := range b {
		if seen.Add(key(v)) {
			out = append(out, v)
		}
	}
	return out
}
