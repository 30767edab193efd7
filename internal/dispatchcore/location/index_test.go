package location

import "testing"

func TestUpsertRejectsInvalidCoordinates(t *testing.T) {
	idx := New()
	cases := []struct {
		lat, lon float64
	}{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	}
	for _, c := range cases {
		if err := idx.Upsert("c1", c.lat, c.lon); err == nil {
			t.Errorf("expected error for lat=%v lon=%v", c.lat, c.lon)
		}
	}
}

func TestRadiusSortedAscending(t *testing.T) {
	idx := New()
	origin := [2]float64{33.315, 44.366} // lat, lon
	if err := idx.Upsert("far", origin[0]+0.05, origin[1]+0.05); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert("near", origin[0]+0.01, origin[1]+0.01); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert("outside", origin[0]+5, origin[1]+5); err != nil {
		t.Fatal(err)
	}

	hits := idx.Radius(origin[0], origin[1], 10, 50)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits within 10km, got %d: %+v", len(hits), hits)
	}
	if hits[0].CaptainID != "near" || hits[1].CaptainID != "far" {
		t.Fatalf("expected near before far, got %+v", hits)
	}
	if hits[0].DistanceKm > hits[1].DistanceKm {
		t.Fatalf("hits not sorted ascending: %+v", hits)
	}
}

func TestRadiusRespectsLimit(t *testing.T) {
	idx := New()
	for i := 0; i < 5; i++ {
		captainID := string(rune('a' + i))
		if err := idx.Upsert(captainID, 33.3+float64(i)*0.001, 44.3); err != nil {
			t.Fatal(err)
		}
	}
	hits := idx.Radius(33.3, 44.3, 50, 2)
	if len(hits) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(hits))
	}
}

func TestRemoveAndPosition(t *testing.T) {
	idx := New()
	if err := idx.Upsert("c1", 33.3, 44.3); err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Position("c1"); !ok {
		t.Fatal("expected position to be present after upsert")
	}
	idx.Remove("c1")
	if _, ok := idx.Position("c1"); ok {
		t.Fatal("expected position to be gone after remove")
	}
}
