package store

import (
	"errors"
	"strings"
)

// CredentialQuery selects stored credentials for listing or removal.
type CredentialQuery struct {
	All        bool
	ResourceID string
	Prefix     string
}

func (q CredentialQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.ResourceID) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --page, or --prefix")
}

// Matches reports whether resourceID is selected by the query.
func (q CredentialQuery) Matches(resourceID string) bool {
	switch {
	case q.All:
		return true
	case strings.TrimSpace(q.ResourceID) != "":
		return resourceID == strings.TrimSpace(q.ResourceID)
	case strings.TrimSpace(q.Prefix) != "":
		return strings.HasPrefix(resourceID, strings.TrimSpace(q.Prefix))
	}
	return false
}

func (q CredentialQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if id := strings.TrimSpace(q.ResourceID); id != "" {
		return "WHERE resource_id = ?", []any{id}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE resource_id LIKE ?", []any{prefix + "%"}, nil
}

// filterCredentials applies q to an in-memory credential map.
func filterCredentials(all map[string]string, q CredentialQuery) (map[string]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for id, credential := range all {
		if q.Matches(id) {
			out[id] = credential
		}
	}
	return out, nil
}
