// Package model defines the core CLAIRE data types: SOP documents, drafts,
// submissions, files, and principals. None of these types persist
// themselves; storage, draft, sop, file, and submission own that.
package model

import "time"

// SOPStatus is the publication lifecycle of an SOP document.
type SOPStatus string

const (
	SOPStatusDraft      SOPStatus = "draft"
	SOPStatusPublished  SOPStatus = "published"
	SOPStatusDeprecated SOPStatus = "deprecated"
)

// FieldType is the primitive type a SOP field validates against.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeInteger FieldType = "integer"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeDate    FieldType = "date"
	FieldTypeFile    FieldType = "file"
)

// Field describes one leaf input and its validation predicates.
type Field struct {
	Path          string    `yaml:"path" json:"path"`
	Label         string    `yaml:"label,omitempty" json:"label,omitempty"`
	Type          FieldType `yaml:"type" json:"type"`
	Required      bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Pattern       string    `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum          []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
	Min           *float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max           *float64  `yaml:"max,omitempty" json:"max,omitempty"`
	AllowedMedia  []string  `yaml:"allowed_media_types,omitempty" json:"allowed_media_types,omitempty"`
	MaxSizeBytes  int64     `yaml:"max_size_bytes,omitempty" json:"max_size_bytes,omitempty"`
}

// CrossFieldRule expresses a predicate over more than one field. Rule is an
// opaque expression interpreted by internal/sop; the registry owns the
// grammar, the model package only carries the declaration.
type CrossFieldRule struct {
	Name    string   `yaml:"name" json:"name"`
	Fields  []string `yaml:"fields" json:"fields"`
	Rule    string   `yaml:"rule" json:"rule"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// Task groups a set of fields collected together in the UI; TaskGroup
// groups tasks. The core never renders these, it only validates against
// the leaf fields they contain.
type Task struct {
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// TaskGroup is the top level of a SOP's task tree.
type TaskGroup struct {
	Name  string `yaml:"name" json:"name"`
	Tasks []Task `yaml:"tasks" json:"tasks"`
}

// FilenameComponent is one field whose value is interpolated into a
// submission's object key, in the declared Order.
type FilenameComponent struct {
	Field     string `yaml:"field" json:"field"`
	Order     int    `yaml:"order" json:"order"`
	Lowercase bool   `yaml:"lowercase,omitempty" json:"lowercase,omitempty"`
}

// SOP is a versioned Standard Operating Procedure document.
type SOP struct {
	SOPID              string              `yaml:"sop_id" json:"sop_id"`
	Version            string              `yaml:"version" json:"version"`
	Title              string              `yaml:"title" json:"title"`
	Author             string              `yaml:"author" json:"author"`
	Approver           string              `yaml:"approver,omitempty" json:"approver,omitempty"`
	Status             SOPStatus           `yaml:"status" json:"status"`
	PublishedAt        *time.Time          `yaml:"published_at,omitempty" json:"published_at,omitempty"`
	TaskGroups         []TaskGroup         `yaml:"task_groups" json:"task_groups"`
	CrossFieldRules    []CrossFieldRule    `yaml:"cross_field_rules,omitempty" json:"cross_field_rules,omitempty"`
	FilenameComponents []FilenameComponent `yaml:"filename_components,omitempty" json:"filename_components,omitempty"`
}

// Summary is the trimmed representation returned from list endpoints.
type Summary struct {
	SOPID       string    `json:"sop_id"`
	Version     string    `json:"version"`
	Title       string    `json:"title"`
	Status      SOPStatus `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ToSummary trims a SOP document down to its list-view fields.
func (s *SOP) ToSummary() Summary {
	return Summary{
		SOPID:       s.SOPID,
		Version:     s.Version,
		Title:       s.Title,
		Status:      s.Status,
		PublishedAt: s.PublishedAt,
	}
}

// Fields flattens the task tree into its leaf fields, in declaration order.
func (s *SOP) Fields() []Field {
	var out []Field
	for _, group := range s.TaskGroups {
		for _, task := range group.Tasks {
			out = append(out, task.Fields...)
		}
	}
	return out
}

// Draft is a mutable, owner-scoped partial form submission.
type Draft struct {
	SOPID      string         `json:"sop_id"`
	SOPVersion string         `json:"sop_version"`
	DraftID    string         `json:"draft_id"`
	Owner      string         `json:"owner"`
	Body       map[string]any `json:"body"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Checksum   string         `json:"checksum"`
}

// Attachment references a previously uploaded File from within a
// submission body or artifact.
type Attachment struct {
	FileID      string `json:"file_id"`
	OriginalName string `json:"original_name"`
	MediaType   string `json:"media_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
}

// Submission is the immutable, finalized ELN record.
type Submission struct {
	SOPID        string         `json:"sop_id"`
	SOPVersion   string         `json:"sop_version"`
	SubmissionID string         `json:"submission_id"`
	Submitter    string         `json:"submitter"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	Body         map[string]any `json:"body"`
	Attachments  []Attachment   `json:"attachments"`
	ObjectKey    string         `json:"object_key"`
	SHA256       string         `json:"sha256"`
	Principal    Principal      `json:"principal"`
}

// File is an uploaded binary object.
type File struct {
	FileID       string    `json:"file_id"`
	OriginalName string    `json:"original_name"`
	MediaType    string    `json:"media_type"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	StorageKey   string    `json:"storage_key"`
	Bound        bool      `json:"bound"`
}

// Principal is the authenticated caller, reconstructed per request from a
// validated token. It is never persisted by the core.
type Principal struct {
	Subject     string   `json:"subject"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Groups      []string `json:"groups"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

// Tokens is the credential pair an Auth Provider issues on
// authenticate or refresh.
type Tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// InGroup reports whether the principal belongs to the named group.
func (p Principal) InGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// SharesGroupWith reports whether p and other have at least one group in
// common.
func (p Principal) SharesGroupWith(groups []string) bool {
	for _, g := range p.Groups {
		for _, og := range groups {
			if g == og {
				return true
			}
		}
	}
	return false
}
