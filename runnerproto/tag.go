package runnerproto

import "sort"

// Tag classifies a case outcome. Tags are either authored by the exercise
// or one of the reserved builtin infrastructure tags below.
type Tag struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	BackgroundColor string `json:"background_color"`
	FontColor       string `json:"font_color"`
	Visible         bool   `json:"visible"`
}

// Less orders tags by (name, description, background, font, visible).
func (t Tag) Less(o Tag) bool {
	if t.Name != o.Name {
		return t.Name < o.Name
	}
	if t.Description != o.Description {
		return t.Description < o.Description
	}
	if t.BackgroundColor != o.BackgroundColor {
		return t.BackgroundColor < o.BackgroundColor
	}
	if t.FontColor != o.FontColor {
		return t.FontColor < o.FontColor
	}
	return !t.Visible && o.Visible
}

// SortTags sorts and deduplicates a tag set.
func SortTags(tags []Tag) []Tag {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	out := tags[:0]
	for i, t := range tags {
		if i == 0 || t != tags[i-1] {
			out = append(out, t)
		}
	}
	return out
}

// Builtin infrastructure tags. The names are part of the wire contract and
// must stay byte-for-byte stable.
var (
	// TagBSE marks a failure the judge backend is responsible for.
	TagBSE = Tag{
		Name:            "BSE",
		Description:     "Backend System Error",
		BackgroundColor: "#bb00bb",
		FontColor:       "#ffdfff",
		Visible:         true,
	}
	// TagESE marks a failure of the evaluation configuration or harness.
	TagESE = Tag{
		Name:            "ESE",
		Description:     "Evaluation System Error",
		BackgroundColor: "#dd00dd",
		FontColor:       "#ffdfff",
		Visible:         true,
	}
	TagTLE = Tag{
		Name:            "TLE",
		Description:     "Time Limit Exceeded",
		BackgroundColor: "#ffdf3f",
		FontColor:       "#ffefcf",
		Visible:         true,
	}
	TagPV = Tag{
		Name:            "PV",
		Description:     "Permission Violation",
		BackgroundColor: "#ffdf3f",
		FontColor:       "#ffefcf",
		Visible:         true,
	}
	TagUA = Tag{
		Name:            "UA",
		Description:     "Unexpected Abortion",
		BackgroundColor: "#ff00ff",
		FontColor:       "#ffdfff",
		Visible:         true,
	}
)

var builtinTagNames = map[string]struct{}{
	TagBSE.Name: {},
	TagESE.Name: {},
	TagTLE.Name: {},
	TagPV.Name:  {},
	TagUA.Name:  {},
}

// IsBuiltinTagName reports whether name is reserved for a builtin tag.
func IsBuiltinTagName(name string) bool {
	_, ok := builtinTagNames[name]
	return ok
}

// IsSystemFailureTagName reports whether name marks a failure the operator
// must triage rather than the student.
func IsSystemFailureTagName(name string) bool {
	return name == TagBSE.Name
}
