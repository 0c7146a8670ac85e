package resolver

import (
	"fmt"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/config"
)

// TileCenter maps a 1-based, row-major region id to a click point. regions is 9 or 16.
func TileCenter(id, regions int, layout config.GridLayout, origin schemas.Point) (schemas.Point, error) {
	side := 3
	if regions == 16 {
		side = 4
	} else {
		regions = 9
	}
	if id < 1 || id > regions {
		return schemas.Point{}, fmt.Errorf("region %d outside a %dx%d grid", id, side, side)
	}
	row := (id - 1) / side
	col := (id - 1) % side
	return schemas.Point{
		X: origin.X + layout.OriginX + float64(col)*layout.StepX,
		Y: origin.Y + layout.OriginY + float64(row)*layout.StepY,
	}, nil
}
