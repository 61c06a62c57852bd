// Package presentation renders compiled plans, host trees and journal
// history for the CLI and the HTTP API.
package presentation

import (
	"github.com/zjrosen/dyncomp/internal/schema"
)

// PlanDTO is a compiled plan ready for output.
type PlanDTO struct {
	Name       string      `json:"name"`
	Parameters []string    `json:"parameters"`
	Records    []RecordDTO `json:"records"`
	// Warnings lists placeholders used in the document but not declared.
	Warnings []string `json:"warnings,omitempty"`
}

// RecordDTO is one creation record with its nesting depth.
type RecordDTO struct {
	Index      int               `json:"index"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	ParentID   string            `json:"parent_id,omitempty"`
	Depth      int               `json:"depth"`
	Properties schema.Properties `json:"properties,omitempty"`
}

// FromPlan converts compiled records to a DTO. Depth is derived from the
// parent links, which always point backwards.
func FromPlan(name string, params []string, plan []schema.CreationRecord) PlanDTO {
	depth := make(map[string]int, len(plan))
	records := make([]RecordDTO, 0, len(plan))
	for i, r := range plan {
		d := 0
		if r.HasParent() {
			d = depth[r.ParentID] + 1
		}
		depth[r.ID] = d
		records = append(records, RecordDTO{
			Index:      i,
			ID:         r.ID,
			Type:       r.Type,
			ParentID:   r.ParentID,
			Depth:      d,
			Properties: r.Properties,
		})
	}
	if params == nil {
		params = []string{}
	}
	return PlanDTO{Name: name, Parameters: params, Records: records}
}
