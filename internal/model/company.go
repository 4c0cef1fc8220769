package model

import "time"

// SourceType identifies where a raw record came from.
type SourceType string

const (
	SourceEmail     SourceType = "email"
	SourceCSVImport SourceType = "csv_import"
	SourceTallyForm SourceType = "tally_form"
)

// Company is a canonical portfolio company identity. All facts are keyed
// to ID; LegalName/AKA/Website are lookup material for the resolver.
type Company struct {
	ID        string `json:"company_id"`
	LegalName string `json:"legal_name"`
	AKA       string `json:"aka,omitempty"`
	Website   string `json:"website,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Attachment is a binary artifact carried by an inbound message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// Message is one raw inbound communication as delivered by a MessageSource.
type Message struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	From        string       `json:"from"`
	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FullText returns the text extraction runs over: subject plus body.
func (m *Message) FullText() string {
	return m.Subject + "\n" + m.Body
}
