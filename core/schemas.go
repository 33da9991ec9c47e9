package core

import (
	"github.com/danielgtaylor/huma/v2"
)

// These types cross the wire as strings (see their JSON marshaling), so
// they advertise string schemas to the API layer.

func (c Checksum) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeString,
		Description: "a checksum of the form <algorithm>:<hex>",
	}
}

func (s TransferStatus) Schema(r huma.Registry) *huma.Schema {
	values := make([]any, 0, len(statusNames))
	for _, name := range statusNames {
		values = append(values, name)
	}
	return &huma.Schema{Type: huma.TypeString, Enum: values}
}

func (p DeletionPolicy) Schema(r huma.Registry) *huma.Schema {
	values := make([]any, 0, len(policyNames))
	for _, name := range policyNames {
		values = append(values, name)
	}
	return &huma.Schema{Type: huma.TypeString, Enum: values}
}

func (s ErrorSeverity) Schema(r huma.Registry) *huma.Schema {
	values := make([]any, 0, len(severityNames))
	for _, name := range severityNames {
		values = append(values, name)
	}
	return &huma.Schema{Type: huma.TypeString, Enum: values}
}

func (c ErrorCategory) Schema(r huma.Registry) *huma.Schema {
	values := make([]any, 0, len(categoryNames))
	for _, name := range categoryNames {
		values = append(values, name)
	}
	return &huma.Schema{Type: huma.TypeString, Enum: values}
}
