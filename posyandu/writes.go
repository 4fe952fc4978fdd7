package posyandu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/krisalay/posyandu-cache/keys"
	"github.com/krisalay/posyandu-cache/mutation"
)

/*
Writes. Each one names the resources it changes; the executor drops every
cached read tagged with them and reloads what is on screen. Aggregates
(dashboard, reports) carry the tags of what they aggregate, so they are
never listed here.
*/

func (s *Service) adminOnly() error {
	if s.role != SuperAdmin {
		return ErrForbidden
	}
	return nil
}

func send[T any](ctx context.Context, s *Service, ex *mutation.Executor, name, method, path string, body any, tags ...string) (T, error) {
	return mutation.Apply(ctx, ex, name, tags, func(ctx context.Context) (T, error) {
		var out T
		err := s.api.Do(ctx, method, path, body, &out)
		return out, err
	})
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	return nil
}

func (s *Service) CreatePosyandu(ctx context.Context, ex *mutation.Executor, in PosyanduInput) (Posyandu, error) {
	if err := s.adminOnly(); err != nil {
		return Posyandu{}, err
	}
	if err := required("name", in.Name); err != nil {
		return Posyandu{}, err
	}
	return send[Posyandu](ctx, s, ex, "create posyandu", http.MethodPost, "posyandus", in,
		keys.Tag(keys.Posyandu))
}

func (s *Service) UpdatePosyandu(ctx context.Context, ex *mutation.Executor, id string, in PosyanduInput) (Posyandu, error) {
	if err := s.adminOnly(); err != nil {
		return Posyandu{}, err
	}
	if err := required("name", in.Name); err != nil {
		return Posyandu{}, err
	}
	return send[Posyandu](ctx, s, ex, "update posyandu", http.MethodPut, "posyandus/"+url.PathEscape(id), in,
		keys.Tag(keys.Posyandu), keys.RecordTag(keys.Posyandu, id))
}

// SetPosyanduActive toggles a posyandu. Every posyandu list and dashboard is dropped.
func (s *Service) SetPosyanduActive(ctx context.Context, ex *mutation.Executor, id string, active bool) (Posyandu, error) {
	if err := s.adminOnly(); err != nil {
		return Posyandu{}, err
	}
	body := map[string]bool{"active": active}
	return send[Posyandu](ctx, s, ex, "toggle posyandu", http.MethodPatch, "posyandus/"+url.PathEscape(id)+"/active", body,
		keys.Tag(keys.Posyandu), keys.RecordTag(keys.Posyandu, id))
}

func (s *Service) CreateChild(ctx context.Context, ex *mutation.Executor, in ChildInput) (Child, error) {
	in.PosyanduID = s.pin(in.PosyanduID)
	if err := required("name", in.Name); err != nil {
		return Child{}, err
	}
	if err := required("posyandu_id", in.PosyanduID); err != nil {
		return Child{}, err
	}
	if in.Gender != Male && in.Gender != Female {
		return Child{}, fmt.Errorf("%w: gender must be %q or %q", ErrInvalid, Male, Female)
	}
	return send[Child](ctx, s, ex, "create child", http.MethodPost, "children", in,
		keys.Tag(keys.Child))
}

func (s *Service) UpdateChild(ctx context.Context, ex *mutation.Executor, id string, in ChildInput) (Child, error) {
	in.PosyanduID = s.pin(in.PosyanduID)
	if err := required("name", in.Name); err != nil {
		return Child{}, err
	}
	return send[Child](ctx, s, ex, "update child", http.MethodPut, "children/"+url.PathEscape(id), in,
		keys.Tag(keys.Child), keys.RecordTag(keys.Child, id))
}

// AddGrowthRecord records a measurement. The z-score and band are computed here so the
// cadre sees the classification before the backend round trip.
func (s *Service) AddGrowthRecord(ctx context.Context, ex *mutation.Executor, childID string, in GrowthInput) (GrowthRecord, error) {
	if err := required("child_id", childID); err != nil {
		return GrowthRecord{}, err
	}
	if in.WeightKg <= 0 || in.HeightCm <= 0 {
		return GrowthRecord{}, fmt.Errorf("%w: weight and height must be positive", ErrInvalid)
	}
	z, err := ZScore(in.WeightKg, in.RefMedianKg, in.RefSDKg)
	if err != nil {
		return GrowthRecord{}, err
	}

	body := GrowthRecord{
		ChildID:    childID,
		MeasuredAt: in.MeasuredAt,
		WeightKg:   in.WeightKg,
		HeightCm:   in.HeightCm,
		HeadCm:     in.HeadCm,
		ZScore:     z,
		Status:     Classify(z),
	}
	return send[GrowthRecord](ctx, s, ex, "add growth record", http.MethodPost, "children/"+url.PathEscape(childID)+"/growth", body,
		keys.Tag(keys.Growth))
}

func (s *Service) CreateUser(ctx context.Context, ex *mutation.Executor, in UserInput) (User, error) {
	if err := s.adminOnly(); err != nil {
		return User{}, err
	}
	if err := required("email", in.Email); err != nil {
		return User{}, err
	}
	if in.Role == Kader {
		if err := required("posyandu_id", in.PosyanduID); err != nil {
			return User{}, err
		}
	}
	return send[User](ctx, s, ex, "create user", http.MethodPost, "users", in,
		keys.Tag(keys.User))
}

func (s *Service) SetUserActive(ctx context.Context, ex *mutation.Executor, id string, active bool) (User, error) {
	if err := s.adminOnly(); err != nil {
		return User{}, err
	}
	body := map[string]bool{"active": active}
	return send[User](ctx, s, ex, "toggle user", http.MethodPatch, "users/"+url.PathEscape(id)+"/active", body,
		keys.Tag(keys.User), keys.RecordTag(keys.User, id))
}
