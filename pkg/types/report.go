package types

import (
	"strings"
	"time"
)

// UploadState is the per-organization state in an upload report.
type UploadState string

const (
	UploadPresent       UploadState = "present"
	UploadPending       UploadState = "pending"
	UploadNotApplicable UploadState = "not_applicable"
)

// OrganizationUploads is one roster entry of an upload report.
type OrganizationUploads struct {
	Organization string      `json:"organization"`
	State        UploadState `json:"state"`
	Files        []string    `json:"files"`
}

// ProjectUploads groups roster entries by project.
type ProjectUploads struct {
	Project       string                `json:"project"`
	Organizations []OrganizationUploads `json:"organizations"`
}

// UploadReport is the snapshot returned by the recent uploads endpoint.
type UploadReport struct {
	WindowStart time.Time        `json:"window_start"`
	GeneratedAt time.Time        `json:"generated_at"`
	Weekday     string           `json:"weekday"`
	Projects    []ProjectUploads `json:"projects"`
}

// Lookup finds the entry for organization within project, ignoring case.
func (r *UploadReport) Lookup(project, organization string) (*OrganizationUploads, bool) {
	for i := range r.Projects {
		if !strings.EqualFold(r.Projects[i].Project, project) {
			continue
		}
		orgs := r.Projects[i].Organizations
		for j := range orgs {
			if strings.EqualFold(orgs[j].Organization, organization) {
				return &orgs[j], true
			}
		}
	}
	return nil, false
}

// Matrix is a published CSV matrix in the public bucket.
type Matrix struct {
	Name         string    `json:"name"`
	Project      string    `json:"project"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url"`
}
