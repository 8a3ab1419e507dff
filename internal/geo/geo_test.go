package geo

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Point
		want    float64
		epsilon float64
	}{
		{"same point", Point{0, 0}, Point{0, 0}, 0, 1e-9},
		{"one degree latitude", Point{0, 0}, Point{0, 1}, 111195, 1},
		{"tiny step", Point{0, 0}, Point{0, 0.00001}, 1.11, 0.01},
		{"guayaquil to quito", Point{-79.8917431, -2.150542}, Point{-78.4678, -0.1807}, 270000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Errorf("Haversine = %v, want %v ± %v", got, tt.want, tt.epsilon)
			}
			if back := Haversine(tt.b, tt.a); math.Abs(back-got) > 1e-6 {
				t.Errorf("Haversine not symmetric: %v vs %v", got, back)
			}
		})
	}
}

func TestFilterDistantEnough(t *testing.T) {
	in := []Point{{0, 0}, {0, 0.00001}, {0, 1}}
	got := FilterDistantEnough(in, 10)
	want := []Point{{0, 0}, {0, 1}}
	if len(got) != len(want) {
		t.Fatalf("FilterDistantEnough = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFilterDistantEnough_Idempotent(t *testing.T) {
	inputs := [][]Point{
		nil,
		{{0, 0}},
		{{0, 0}, {0, 0.00001}, {0, 1}},
		{{-79.89, -2.15}, {-79.89001, -2.15001}, {-79.8901, -2.1501}, {-79.8901, -2.15011}, {-79.9, -2.16}},
		{{10, 10}, {10, 10}, {10, 10}},
	}
	for _, in := range inputs {
		once := FilterDistantEnough(in, 10)
		twice := FilterDistantEnough(once, 10)
		if len(once) != len(twice) {
			t.Fatalf("not idempotent: %v -> %v", once, twice)
		}
		for i := range once {
			if once[i] != twice[i] {
				t.Errorf("not idempotent at %d: %v vs %v", i, once[i], twice[i])
			}
		}
	}
}

func TestFilterDistantEnough_ZeroThresholdKeepsAll(t *testing.T) {
	in := []Point{{1, 1}, {1, 1}, {2, 2}}
	if got := FilterDistantEnough(in, 0); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestPointValid(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{-79.1, -2.1}, true},
		{Point{180, 90}, true},
		{Point{181, 0}, false},
		{Point{0, -91}, false},
		{Point{math.NaN(), 0}, false},
		{Point{0, math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.p, got, tt.want)
		}
	}
}
