// Package design holds the generated ERP design document: the tables, views
// and actions the workflow service produces from an interview transcript.
package design

import "fmt"

// ViewStyle selects the presentation component for a view. The set is
// closed; dispatch over it must be exhaustive.
type ViewStyle string

const (
	StyleGallery ViewStyle = "gallery"
	StyleBoard   ViewStyle = "board"
	StyleTable   ViewStyle = "table"
)

func (s ViewStyle) Valid() bool {
	switch s {
	case StyleGallery, StyleBoard, StyleTable:
		return true
	default:
		return false
	}
}

// ViewPlacement selects where a view is surfaced in navigation.
type ViewPlacement string

const (
	PlacementMainMenu ViewPlacement = "main_menu"
	PlacementSideMenu ViewPlacement = "side_menu"
)

func (p ViewPlacement) Valid() bool {
	switch p {
	case PlacementMainMenu, PlacementSideMenu:
		return true
	default:
		return false
	}
}

// Table is one entity of the generated schema.
type Table struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

// Action is a workflow the user can run against a table.
type Action struct {
	Name        string   `json:"name"`
	Table       string   `json:"table"`
	Steps       []string `json:"steps"`
	Access      []string `json:"access"`
	Description string   `json:"description"`
}

// View is one navigable presentation of a table.
type View struct {
	Name             string        `json:"name"`
	Table            string        `json:"table"`
	Style            ViewStyle     `json:"style"`
	Position         ViewPlacement `json:"position"`
	ColumnsDisplayed []string      `json:"columns_displayed"`
}

// Same reports view identity: name plus owning table.
func (v View) Same(other View) bool {
	return v.Name == other.Name && v.Table == other.Table
}

// Design is the rendered artifact extracted from the workflow thread state
// at values.erp_design.
type Design struct {
	Tables    []Table  `json:"tables"`
	Actions   []Action `json:"actions"`
	Views     []View   `json:"views"`
	MainColor string   `json:"main_color"`
}

// Normalize fills absent sub-collections with empty slices so downstream
// rendering never needs nil checks beyond "document present or not".
func (d *Design) Normalize() {
	if d == nil {
		return
	}
	if d.Tables == nil {
		d.Tables = []Table{}
	}
	if d.Actions == nil {
		d.Actions = []Action{}
	}
	if d.Views == nil {
		d.Views = []View{}
	}
}

// HasView reports whether the document contains the given view by identity.
func (d *Design) HasView(v View) bool {
	if d == nil {
		return false
	}
	for _, candidate := range d.Views {
		if candidate.Same(v) {
			return true
		}
	}
	return false
}

// FirstView returns the first view of the document, or nil when it has none.
func (d *Design) FirstView() *View {
	if d == nil || len(d.Views) == 0 {
		return nil
	}
	v := d.Views[0]
	return &v
}

// DanglingRefs lists the view and action table references that do not match
// any table.name in the document. The external generator does not enforce
// referential integrity, so consumers render these gracefully; the report
// exists for diagnostics only.
func (d *Design) DanglingRefs() []string {
	if d == nil {
		return nil
	}
	known := make(map[string]struct{}, len(d.Tables))
	for _, t := range d.Tables {
		known[t.Name] = struct{}{}
	}
	var refs []string
	for _, v := range d.Views {
		if _, ok := known[v.Table]; !ok {
			refs = append(refs, fmt.Sprintf("view %q -> table %q", v.Name, v.Table))
		}
	}
	for _, a := range d.Actions {
		if _, ok := known[a.Table]; !ok {
			refs = append(refs, fmt.Sprintf("action %q -> table %q", a.Name, a.Table))
		}
	}
	return refs
}
