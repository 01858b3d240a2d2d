package model

// FieldKind describes how a login schema field appears on the page.
type FieldKind string

const (
	FieldKindText     FieldKind = "text"
	FieldKindPassword FieldKind = "password"
	FieldKindHidden   FieldKind = "hidden"
)

// SchemaField maps one logical credential attribute to its on-page locator.
// A locator starting with '#' matches an element id; anything else matches
// the input's name attribute.
type SchemaField struct {
	Name    string    `yaml:"field" json:"field"`
	Locator string    `yaml:"locator" json:"locator"`
	Kind    FieldKind `yaml:"kind" json:"kind"`
}

// AppDescriptor describes one legacy application the agent can fill forms
// for. The login schema is ordered; the agent fills fields in schema order.
// Descriptors are owned by the identity service and immutable at runtime.
type AppDescriptor struct {
	AppID       string        `yaml:"app_id" json:"appId"`
	Origin      string        `yaml:"origin" json:"origin"`
	LoginPath   string        `yaml:"login_path" json:"loginPath"`
	LogoutPath  string        `yaml:"logout_path,omitempty" json:"logoutPath,omitempty"`
	SuccessText string        `yaml:"success_text,omitempty" json:"successText,omitempty"`
	LoginSchema []SchemaField `yaml:"login_schema" json:"loginSchema"`
}

// SchemaFieldNames returns the logical field names in schema order.
func (a AppDescriptor) SchemaFieldNames() []string {
	names := make([]string, 0, len(a.LoginSchema))
	for _, f := range a.LoginSchema {
		names = append(names, f.Name)
	}
	return names
}
