package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Subject is the image being analyzed together with the context the prompt needs
// and the metadata currently attached to it.
type Subject struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	SourceType  string      `gorm:"type:text;index:idx_subjects_source,unique" json:"source_type"`
	SourceID    string      `gorm:"type:text;index:idx_subjects_source,unique" json:"source_id"`
	StorageKey  string      `gorm:"type:text;not null" json:"storage_key"`
	Format      string      `json:"format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FileSize    int64       `json:"file_size"`
	MD5Hash     string      `gorm:"type:text;index:idx_subjects_md5" json:"md5_hash"`
	PostTitle   string      `gorm:"type:text" json:"post_title"`
	Categories  StringArray `gorm:"type:text" json:"categories"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	Exif        StringMap   `gorm:"type:text" json:"exif,omitempty"`
	Alt         string      `gorm:"type:text" json:"alt"`
	Caption     string      `gorm:"type:text" json:"caption"`
	Title       string      `gorm:"type:text" json:"title"`
	Keywords    StringArray `gorm:"type:text" json:"keywords"`
	Draft       *Metadata   `gorm:"type:text" json:"draft,omitempty"`
	State       StateKind   `gorm:"type:text;default:none" json:"state"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Subject.
func (Subject) TableName() string {
	return "subjects"
}

// SubjectContext is the prompt context derived from a subject and its site.
type SubjectContext struct {
	SiteName        string            `json:"site_name,omitempty"`
	SiteDescription string            `json:"site_description,omitempty"`
	PostTitle       string            `json:"post_title,omitempty"`
	Categories      []string          `json:"categories,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Exif            map[string]string `json:"exif,omitempty"`
}

// SubjectImage is the resolved image payload sent to a provider.
type SubjectImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	URL      string
}
