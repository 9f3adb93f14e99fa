package patient

import (
	"context"
	"testing"

	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/platform/hl7"
)

func newService() (*Service, *InMemoryRepo) {
	repo := NewInMemoryRepo()
	return NewService(repo, sequence.NewInMemory()), repo
}

func pidDoe() *hl7.PIDRecord {
	return &hl7.PIDRecord{
		Names:     []hl7.PersonName{{Family: "DOE", Given: "JOHN", Type: "D"}},
		BirthDate: "19800101",
		Gender:    "M",
	}
}

func TestCreateFromPID(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	p, err := svc.CreateFromPID(ctx, pidDoe())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Seq != 1 {
		t.Errorf("seq: got %d", p.Seq)
	}
	if p.BirthDate != "19800101" || p.Gender != "M" {
		t.Errorf("demographics: %q %q", p.BirthDate, p.Gender)
	}
	if n := p.NameOfKind(NameUsual); n == nil || n.Family != "DOE" {
		t.Errorf("usual name: %+v", n)
	}
}

func TestApplyDemographicsAdditiveMerge(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	p, err := svc.CreateFromPID(ctx, &hl7.PIDRecord{
		Names: []hl7.PersonName{
			{Family: "MARTIN", Given: "MARIE", Type: "D"},
			{Family: "DURAND", Given: "MARIE", Type: "L"},
		},
		BirthDate: "19900202",
		Gender:    "F",
		Phones:    []hl7.Phone{{Value: "0102030405"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Update carries only the usual name and a mobile: the birth name and
	// home phone must survive.
	update := &hl7.PIDRecord{
		Names:  []hl7.PersonName{{Family: "MARTIN-BLANC", Given: "MARIE", Type: "D"}},
		Phones: []hl7.Phone{{Value: "0601020304", Use: "CP", Equipment: "CELL"}},
	}
	if err := svc.ApplyDemographics(ctx, p, update); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stored, _ := repo.Get(ctx, p.ID)
	if len(stored.Names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(stored.Names))
	}
	if n := stored.NameOfKind(NameUsual); n.Family != "MARTIN-BLANC" {
		t.Errorf("usual name must be replaced, got %q", n.Family)
	}
	if n := stored.NameOfKind(NameBirth); n == nil || n.Family != "DURAND" {
		t.Errorf("birth name must survive, got %+v", n)
	}

	if len(stored.Phones) != 2 {
		t.Fatalf("expected 2 phones, got %d", len(stored.Phones))
	}
	// Empty update fields never erase scalars.
	if stored.BirthDate != "19900202" || stored.Gender != "F" {
		t.Errorf("scalars erased: %q %q", stored.BirthDate, stored.Gender)
	}
}

func TestPhoneKind(t *testing.T) {
	cases := []struct {
		in   hl7.Phone
		want string
	}{
		{hl7.Phone{Value: "0102030405"}, PhoneHome},
		{hl7.Phone{Value: "0601020304", Use: "CP", Equipment: "CELL"}, PhoneMobile},
		{hl7.Phone{Value: "0155555555", Use: "WP", Equipment: "WORK"}, PhoneWork},
		{hl7.Phone{Value: "0601020304", Equipment: "CELL"}, PhoneMobile},
	}
	for _, c := range cases {
		if got := PhoneKind(c.in); got != c.want {
			t.Errorf("PhoneKind(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}
