package fixture

import (
	"context"
	"time"

	"github.com/krisalay/posyandu-cache/posyandu"
)

// Seeded holds the ids of the demo data.
type Seeded struct {
	Posyandus []string
	Children  []string
	AdminID   string
	KaderID   string
}

// Seed fills an empty store with two posyandus, a few children with growth
// records, one super-admin and one cadre of the first posyandu.
func Seed(ctx context.Context, s *Store) (Seeded, error) {
	var out Seeded

	for _, in := range []posyandu.PosyanduInput{
		{Name: "Posyandu Melati", Village: "Sukamaju", District: "Cibinong"},
		{Name: "Posyandu Mawar", Village: "Sukasari", District: "Cibinong"},
	} {
		p, err := s.CreatePosyandu(ctx, in)
		if err != nil {
			return out, err
		}
		out.Posyandus = append(out.Posyandus, p.ID)
	}

	born := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	children := []posyandu.ChildInput{
		{Name: "Aisyah", Gender: posyandu.Female, BirthDate: born, PosyanduID: out.Posyandus[0]},
		{Name: "Bima", Gender: posyandu.Male, BirthDate: born.AddDate(0, -4, 0), PosyanduID: out.Posyandus[0]},
		{Name: "Citra", Gender: posyandu.Female, BirthDate: born.AddDate(0, 2, 0), PosyanduID: out.Posyandus[1]},
	}
	weights := []float64{9.6, 7.6, 8.4}

	measured := time.Date(2025, time.June, 14, 9, 0, 0, 0, time.UTC)
	for i, in := range children {
		c, err := s.CreateChild(ctx, in)
		if err != nil {
			return out, err
		}
		out.Children = append(out.Children, c.ID)

		z, err := posyandu.ZScore(weights[i], 10.2, 1.1)
		if err != nil {
			return out, err
		}
		_, err = s.AddGrowth(ctx, c.ID, posyandu.GrowthRecord{
			ChildID:    c.ID,
			MeasuredAt: measured,
			WeightKg:   weights[i],
			HeightCm:   78.5,
			ZScore:     z,
			Status:     posyandu.Classify(z),
		})
		if err != nil {
			return out, err
		}
	}

	admin, err := s.CreateUser(ctx, posyandu.UserInput{Name: "Admin Dinkes", Email: "admin@dinkes.example", Role: posyandu.SuperAdmin})
	if err != nil {
		return out, err
	}
	out.AdminID = admin.ID

	kader, err := s.CreateUser(ctx, posyandu.UserInput{Name: "Bu Sri", Email: "sri@posyandu.example", Role: posyandu.Kader, PosyanduID: out.Posyandus[0]})
	if err != nil {
		return out, err
	}
	out.KaderID = kader.ID

	return out, nil
}
