package model

import "strings"

// Page is one loaded document as the page agent sees it: the parsed forms
// plus the visible text used by success heuristics. A page is a snapshot;
// navigating away produces a brand new Page.
type Page struct {
	URL    string
	Origin string
	Forms  []Form
	Text   string
}

// Form is a parsed HTML form.
type Form struct {
	Action string
	Method string
	Fields []FormField
}

// FormField is one fillable control in a form. Type is the raw input type
// attribute ("text", "password", "hidden", "submit", ...).
type FormField struct {
	ID    string
	Name  string
	Type  string
	Value string
}

// IsPassword reports whether the field is a password input.
func (f FormField) IsPassword() bool {
	return strings.EqualFold(f.Type, "password")
}

// FieldByLocator resolves a login schema locator against the form:
// "#id" matches the element id, anything else the name attribute.
func (fm Form) FieldByLocator(locator string) (FormField, bool) {
	if id, ok := strings.CutPrefix(locator, "#"); ok {
		for _, f := range fm.Fields {
			if f.ID == id {
				return f, true
			}
		}
		return FormField{}, false
	}
	for _, f := range fm.Fields {
		if f.Name == locator {
			return f, true
		}
	}
	return FormField{}, false
}

// PasswordFieldCount returns the number of password inputs in the form.
func (fm Form) PasswordFieldCount() int {
	n := 0
	for _, f := range fm.Fields {
		if f.IsPassword() {
			n++
		}
	}
	return n
}

// FillableFields returns the fields a user would type into: text-like and
// password inputs, skipping hidden and submit controls.
func (fm Form) FillableFields() []FormField {
	var out []FormField
	for _, f := range fm.Fields {
		switch strings.ToLower(f.Type) {
		case "hidden", "submit", "button", "image", "reset", "checkbox", "radio":
			continue
		}
		out = append(out, f)
	}
	return out
}

// LoginForm returns the first form with exactly one password field, the
// classic shape of a login form. Password-change forms carry two or more.
func (p *Page) LoginForm() (Form, bool) {
	for _, fm := range p.Forms {
		if fm.PasswordFieldCount() == 1 {
			return fm, true
		}
	}
	return Form{}, false
}

// PasswordChangeForm returns the first form with two or more password fields
// (current/new, or new/confirm, or all three).
func (p *Page) PasswordChangeForm() (Form, bool) {
	for _, fm := range p.Forms {
		if fm.PasswordFieldCount() >= 2 {
			return fm, true
		}
	}
	return Form{}, false
}

// ContainsText reports whether the page's visible text contains the marker,
// case-insensitively. Empty markers never match.
func (p *Page) ContainsText(marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(p.Text), strings.ToLower(marker))
}
