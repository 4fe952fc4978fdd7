package posyandu

import (
	"context"
	"net/http"
	"net/url"

	"github.com/krisalay/posyandu-cache/keys"
	"github.com/krisalay/posyandu-cache/query"
	"github.com/krisalay/posyandu-cache/types"
)

/*
Service builds the requests of one user's dashboards.

A super-admin reads everything under the "admin" scope. A cadre reads under
the "kader" scope and every per-posyandu read is pinned to the cadre's own
posyandu, whatever id the screen asked for.
*/
type Service struct {
	api        types.Requester
	role       Role
	posyanduID string
}

// ForUser creates the service for u.
func ForUser(api types.Requester, u User) *Service {
	return &Service{api: api, role: u.Role, posyanduID: u.PosyanduID}
}

func (s *Service) Role() Role {
	return s.role
}

func (s *Service) scope() keys.Scope {
	if s.role == SuperAdmin {
		return keys.Admin
	}
	return keys.Kader
}

// pin returns the posyandu a read is allowed to see.
func (s *Service) pin(posyanduID string) string {
	if s.role == SuperAdmin {
		return posyanduID
	}
	return s.posyanduID
}

// get builds a cached GET of path decoded into T.
func get[T any](s *Service, k keys.Key, path string) query.Request[T] {
	return query.Request[T]{
		Key:  k.String(),
		Tags: k.Tags(),
		Fetch: func(ctx context.Context) (T, error) {
			var out T
			err := s.api.Do(ctx, http.MethodGet, path, nil, &out)
			return out, err
		},
	}
}

func withQuery(path string, params url.Values) string {
	if enc := params.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

// Posyandus lists posyandus. Keys: admin_posyandus, admin_posyandus_all, _active, _inactive.
func (s *Service) Posyandus(filter PosyanduFilter) query.Request[[]Posyandu] {
	k := keys.New(s.scope(), keys.Posyandu).With(string(filter))

	params := url.Values{}
	switch filter {
	case FilterActive, FilterInactive:
		params.Set("status", string(filter))
	}
	return get[[]Posyandu](s, k, withQuery("posyandus", params))
}

func (s *Service) Posyandu(id string) query.Request[Posyandu] {
	id = s.pin(id)
	k := keys.New(s.scope(), keys.Posyandu).For(id)
	return get[Posyandu](s, k, "posyandus/"+url.PathEscape(id))
}

// Children lists children, all of them for an admin with an empty posyanduID.
func (s *Service) Children(posyanduID string) query.Request[[]Child] {
	posyanduID = s.pin(posyanduID)
	k := keys.New(s.scope(), keys.Child).With(posyanduID)

	params := url.Values{}
	if posyanduID != "" {
		params.Set("posyandu_id", posyanduID)
	}
	return get[[]Child](s, k, withQuery("children", params))
}

func (s *Service) Child(id string) query.Request[Child] {
	k := keys.New(s.scope(), keys.Child).For(id)
	return get[Child](s, k, "children/"+url.PathEscape(id))
}

func (s *Service) GrowthRecords(childID string) query.Request[[]GrowthRecord] {
	k := keys.New(s.scope(), keys.Growth).With(childID)
	return get[[]GrowthRecord](s, k, "children/"+url.PathEscape(childID)+"/growth")
}

// Users lists dashboard users, optionally by role. Admin only.
func (s *Service) Users(role Role) query.Request[[]User] {
	k := keys.New(s.scope(), keys.User).With(string(role))

	req := query.Request[[]User]{Key: k.String(), Tags: k.Tags()}
	if s.role != SuperAdmin {
		req.Fetch = func(context.Context) ([]User, error) { return nil, ErrForbidden }
		return req
	}

	params := url.Values{}
	if role != "" {
		params.Set("role", string(role))
	}
	return get[[]User](s, k, withQuery("users", params))
}

// Dashboard is the summary card set. Keys: admin_dashboard, admin_dashboard_<posyanduId>.
func (s *Service) Dashboard(posyanduID string) query.Request[DashboardSummary] {
	posyanduID = s.pin(posyanduID)
	k := keys.New(s.scope(), keys.Dashboard).With(posyanduID)

	params := url.Values{}
	if posyanduID != "" {
		params.Set("posyandu_id", posyanduID)
	}
	return get[DashboardSummary](s, k, withQuery("dashboard", params))
}

// MonthlyReport is the growth report of one posyandu for period (YYYY-MM).
func (s *Service) MonthlyReport(posyanduID, period string) query.Request[MonthlyReport] {
	posyanduID = s.pin(posyanduID)
	k := keys.New(s.scope(), keys.Report).With(period).For(posyanduID)

	params := url.Values{}
	params.Set("posyandu_id", posyanduID)
	params.Set("period", period)
	return get[MonthlyReport](s, k, withQuery("reports/monthly", params))
}
