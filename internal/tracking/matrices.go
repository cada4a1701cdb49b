package tracking

import (
	"context"
	"path"
	"strings"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/epimonitor/manager/pkg/types"
)

// MatricesPrefix returns the folder holding a project's published CSV matrices.
func MatricesPrefix(project string) string {
	return project + "/reports/current/matrices/csv/"
}

// ListMatrices lists the published CSV matrices of every configured project.
func (s *Service) ListMatrices(ctx context.Context) ([]types.Matrix, error) {
	matrices := []types.Matrix{}
	if s.public == nil {
		return matrices, nil
	}

	for _, project := range s.config.Report.Projects {
		objects, err := s.public.ListObjects(ctx, MatricesPrefix(project))
		if err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeListFailed, "failed to list matrices", err).
				WithDetails(map[string]interface{}{"project": project})
		}
		for _, obj := range objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			matrices = append(matrices, types.Matrix{
				Name:         path.Base(obj.Key),
				Project:      project,
				Path:         obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				URL:          s.publicURL(obj.Key),
			})
		}
	}
	return matrices, nil
}

func (s *Service) publicURL(key string) string {
	base := strings.TrimRight(s.config.PublicBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/" + s.config.PublicBucket + "/" + key
}
