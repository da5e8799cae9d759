package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solaius/model-harvester/pkg/entity"
)

// ErrMissingID is returned when a raw record has no upstream identifier.
var ErrMissingID = errors.New("record has no id")

// Record is the common catalog record shape shared by the bundled
// connectors. Nested structures may arrive as objects or JSON strings.
type Record struct {
	ID          recordID `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Readme      string   `json:"readme"`
	Tags        []string `json:"tags"`
	Author      string   `json:"author"`
	License     string   `json:"license"`
	ImageURL    string   `json:"image_url"`

	Likes     int64    `json:"likes"`
	Downloads int64    `json:"downloads"`
	Stars     *int64   `json:"stars"`
	Forks     *int64   `json:"forks"`
	Velocity  float64  `json:"velocity"`
	NSFW      bool     `json:"nsfw"`
	Created   jsonTime `json:"created_at"`
	Updated   jsonTime `json:"updated_at"`

	Meta      entity.Flexible[entity.Meta]       `json:"meta"`
	Relations entity.Flexible[[]entity.Relation] `json:"relations"`
	Assets    entity.Flexible[[]entity.Asset]    `json:"assets"`
}

// NormalizeRecord decodes raw as a Record and converts it into an entity
// owned by source. The entity ID is the source-qualified upstream ID.
func NormalizeRecord(source string, defaultType entity.Type, raw Raw) (*entity.Entity, error) {
	var r Record
	if err := Decode(raw, &r); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(string(r.ID))
	if id == "" {
		return nil, ErrMissingID
	}

	title := firstNonEmpty(r.Title, r.Name, id)
	author := r.Author
	if author == "" {
		if i := strings.Index(id, "/"); i > 0 {
			author = id[:i]
		}
	}

	typ := entity.Type(strings.ToLower(r.Type))
	if typ == "" {
		typ = defaultType
	}

	e := &entity.Entity{
		ID:          source + ":" + id,
		Type:        typ,
		Source:      source,
		SourceURL:   r.URL,
		Title:       title,
		Description: r.Description,
		BodyContent: firstNonEmpty(r.Body, r.Readme),
		Tags:        dedupeTags(r.Tags),
		Author:      author,
		License:     r.License,
		ImageURL:    r.ImageURL,
		Metrics: entity.Metrics{
			Likes:     r.Likes,
			Downloads: r.Downloads,
			Stars:     r.Stars,
			Forks:     r.Forks,
			Velocity:  r.Velocity,
		},
		CreatedAt: r.Created.Time,
		UpdatedAt: r.Updated.Time,
		Meta:      r.Meta.Value,
		Relations: r.Relations.Value,
		Assets:    r.Assets.Value,
	}
	if r.NSFW {
		e.Meta.NSFW = true
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Metrics.Likes < 0 || e.Metrics.Downloads < 0 {
		return nil, fmt.Errorf("record %s: negative metrics", id)
	}
	return e, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// dedupeTags trims tags and drops duplicates while keeping first-seen order.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RawID returns the upstream identifier of raw as a string, or "" when it
// has none. Numeric identifiers are formatted without an exponent.
func RawID(raw Raw) string {
	switch v := raw["id"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// recordID accepts string and numeric identifiers.
type recordID string

func (id *recordID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = recordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = recordID(n.String())
	return nil
}

// jsonTime accepts RFC 3339 timestamps, plain dates and unix seconds.
type jsonTime struct {
	time.Time
}

func (t *jsonTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
