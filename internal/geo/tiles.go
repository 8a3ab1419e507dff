package geo

import (
	"math"
	"strconv"
	"strings"
)

// Tile is a slippy-map tile address.
type Tile struct {
	Z, X, Y int
}

// TileAt returns the tile containing p at zoom z.
func TileAt(p Point, z int) Tile {
	n := math.Exp2(float64(z))
	latRad := p.Lat * math.Pi / 180
	x := int(math.Floor((p.Lng + 180) / 360 * n))
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))
	return clampTile(Tile{Z: z, X: x, Y: y})
}

// TilesAround returns the tiles within radius of p's tile for each zoom, in zoom order.
// Tiles that fall off the map edge are skipped.
func TilesAround(p Point, zooms []int, radius int) []Tile {
	var out []Tile
	for _, z := range zooms {
		c := TileAt(p, z)
		max := 1 << z
		for dx := -radius; dx <= radius; dx++ {
			for dy := -radius; dy <= radius; dy++ {
				x, y := c.X+dx, c.Y+dy
				if x < 0 || y < 0 || x >= max || y >= max {
					continue
				}
				out = append(out, Tile{Z: z, X: x, Y: y})
			}
		}
	}
	return out
}

// URL expands a template with {z}, {x} and {y} placeholders.
func (t Tile) URL(template string) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	)
	return r.Replace(template)
}

func clampTile(t Tile) Tile {
	max := (1 << t.Z) - 1
	if t.X < 0 {
		t.X = 0
	}
	if t.X > max {
		t.X = max
	}
	if t.Y < 0 {
		t.Y = 0
	}
	if t.Y > max {
		t.Y = max
	}
	return t
}
