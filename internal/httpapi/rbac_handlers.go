package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/ids"
)

type roleResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type permissionResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type userPermissionsResponse struct {
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.catalog.ListRoles(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	rows, err := a.catalog.ListRolePermissions(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	grants := make(map[string][]string, len(roles))
	for _, row := range rows {
		grants[row.RoleID] = append(grants[row.RoleID], auth.FormatPermission(row.Resource, row.Action))
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		perms := grants[role.ID]
		if perms == nil {
			perms = []string{}
		}
		sort.Strings(perms)
		out = append(out, roleResponse{
			ID:          role.ID,
			Name:        role.Name,
			Description: role.Description,
			Permissions: perms,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.catalog.ListPermissions(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{
			ID:          p.ID,
			Key:         p.Key(),
			Resource:    p.Resource,
			Action:      p.Action,
			Description: p.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if !ids.Valid(userID) {
		writeError(w, r, http.StatusBadRequest, codeValidation, "user id is not valid")
		return
	}
	perms, err := a.resolver.Resolve(r.Context(), userID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userPermissionsResponse{UserID: userID, Permissions: perms.Sorted()})
}
