package typeid

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	PrefixRegion  = "rgn"
	PrefixSession = "sess"
	PrefixImage   = "img"
	PrefixExport  = "exp"
	PrefixAudit   = "audit"
)

func New(prefix string) string {
	id := typeid.MustGenerate(prefix)
	return id.String()
}

func NewRegionID() string  { return New(PrefixRegion) }
func NewSessionID() string { return New(PrefixSession) }
func NewImageID() string   { return New(PrefixImage) }
func NewExportID() string  { return New(PrefixExport) }
func NewAuditID() string   { return New(PrefixAudit) }

func Validate(id, expectedPrefix string) error {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid typeid %q: %w", id, err)
	}
	if parsed.Prefix() != expectedPrefix {
		return fmt.Errorf("expected prefix %q but got %q in id %q", expectedPrefix, parsed.Prefix(), id)
	}
	return nil
}
