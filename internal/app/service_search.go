package app

import (
	"context"

	"stride/api/internal/search"
)

// Search runs a full-text query scoped to the projects the caller can read:
// everything they own plus everything shared with them.
func (s *Service) Search(ctx context.Context, session Session, text string, filterType search.ResultType, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	projectIDs, err := s.accessibleProjectIDs(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}

	return s.search.Search(search.Query{
		Text:       text,
		FilterType: filterType,
		ProjectIDs: projectIDs,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) accessibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	owned, err := s.store.ListProjectsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(owned)+len(memberships))
	for _, project := range owned {
		ids = append(ids, project.ID)
	}
	for _, membership := range memberships {
		ids = append(ids, membership.ProjectID)
	}
	return ids, nil
}
