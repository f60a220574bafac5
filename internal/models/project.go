package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// DateLayout is the format of Project.WatchedDate.
const DateLayout = "2006-01-02"

// Known top-level field names of a project record.
const (
	FieldID          = "id"
	FieldType        = "type"
	FieldWatched     = "watched"
	FieldInProgress  = "inProgress"
	FieldWatchedDate = "watchedDate"
	FieldRatings     = "ratings"
	FieldNotes       = "notes"
)

// Ratings maps a rater name to a score. A nil score means "not rated yet".
type Ratings map[string]*float64

// HasScore reports whether at least one rater has a non-null score.
func (r Ratings) HasScore() bool {
	for _, v := range r {
		if v != nil {
			return true
		}
	}
	return false
}

// Backfill adds a null entry for every rater missing from r.
func (r Ratings) Backfill(raters []string) Ratings {
	if r == nil {
		r = make(Ratings, len(raters))
	}
	for _, name := range raters {
		if _, ok := r[name]; !ok {
			r[name] = nil
		}
	}
	return r
}

// Clone returns a deep copy of r.
func (r Ratings) Clone() Ratings {
	if r == nil {
		return nil
	}
	out := make(Ratings, len(r))
	for k, v := range r {
		if v != nil {
			score := *v
			out[k] = &score
			continue
		}
		out[k] = nil
	}
	return out
}

// Project is a tracked movie with viewing and rating metadata.
//
// Fields the service does not know about are kept in Extra and written back
// verbatim, so clients may attach arbitrary data to a record.
type Project struct {
	ID          string
	Type        string
	Watched     bool
	InProgress  bool
	WatchedDate *string
	Ratings     Ratings
	Notes       string
	Extra       map[string]json.RawMessage

	// typeSet records an explicit, possibly empty, type value.
	typeSet bool
}

// Patch is a shallow set of top-level fields to merge into a project.
type Patch map[string]json.RawMessage

// Set encodes v and stores it under key.
func (p Patch) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	p[key] = raw
	return nil
}

// Has reports whether the patch carries key.
func (p Patch) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Bool decodes key as a boolean. ok is false when key is absent or not a bool.
func (p Patch) Bool(key string) (value, ok bool) {
	raw, found := p[key]
	if !found {
		return false, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, false
	}
	return value, true
}

// HasType reports whether the record carries a type, including an explicitly
// empty one.
func (p *Project) HasType() bool {
	return p.Type != "" || p.typeSet
}

// IsWatchedDateSet reports whether the project carries a non-empty watch date.
func (p *Project) IsWatchedDateSet() bool {
	return p.WatchedDate != nil && *p.WatchedDate != ""
}

// MarkWatched sets Watched and stamps WatchedDate with now when it is unset.
func (p *Project) MarkWatched(now time.Time) {
	p.Watched = true
	if !p.IsWatchedDateSet() {
		date := now.Format(DateLayout)
		p.WatchedDate = &date
	}
}

// Apply merges the patch into p. Known fields are decoded into their typed
// counterparts, everything else lands in Extra. The id field is not touched.
func (p *Project) Apply(patch Patch) error {
	for key, raw := range patch {
		var err error
		switch key {
		case FieldID:
			continue
		case FieldType:
			if err = decodeField(raw, &p.Type); err == nil {
				p.typeSet = !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
			}
		case FieldWatched:
			err = decodeField(raw, &p.Watched)
		case FieldInProgress:
			err = decodeField(raw, &p.InProgress)
		case FieldWatchedDate:
			var date *string
			if err = decodeField(raw, &date); err == nil {
				p.WatchedDate = date
			}
		case FieldRatings:
			var ratings Ratings
			if err = decodeField(raw, &ratings); err == nil {
				p.Ratings = ratings
			}
		case FieldNotes:
			err = decodeField(raw, &p.Notes)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	out := *p
	if p.WatchedDate != nil {
		date := *p.WatchedDate
		out.WatchedDate = &date
	}
	out.Ratings = p.Ratings.Clone()
	out.Extra = maps.Clone(p.Extra)
	return &out
}

// MarshalJSON writes the known fields and the extra fields as one flat object.
func (p Project) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+7)
	for k, v := range p.Extra {
		out[k] = v
	}
	out[FieldID] = p.ID
	if p.HasType() {
		out[FieldType] = p.Type
	}
	out[FieldWatched] = p.Watched
	out[FieldInProgress] = p.InProgress
	out[FieldWatchedDate] = p.WatchedDate
	ratings := p.Ratings
	if ratings == nil {
		ratings = Ratings{}
	}
	out[FieldRatings] = ratings
	out[FieldNotes] = p.Notes
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat record object.
func (p *Project) UnmarshalJSON(data []byte) error {
	var fields Patch
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = Project{}
	if raw, ok := fields[FieldID]; ok {
		if err := decodeField(raw, &p.ID); err != nil {
			return fmt.Errorf("field %q: %w", FieldID, err)
		}
	}
	return p.Apply(fields)
}

// decodeField resets dst to its zero value on JSON null; json.Unmarshal alone
// would leave a string or bool untouched.
func decodeField(raw json.RawMessage, dst any) error {
	if string(bytes.TrimSpace(raw)) == "null" {
		switch d := dst.(type) {
		case *string:
			*d = ""
		case *bool:
			*d = false
		}
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Stats is the aggregate view over all projects.
type Stats struct {
	Total      int            `json:"total"`
	Watched    int            `json:"watched"`
	InProgress int            `json:"in_progress"`
	ByType     map[string]int `json:"by_type"`
}
