package stars

import (
	"fmt"

	"github.com/dukerupert/starchart/internal/model"
)

// CurrentSchemaVersion is stamped on every cache this build writes.
const CurrentSchemaVersion = 1

// upgrades maps a schema version to the function that lifts a cache from that
// version to the next one.
var upgrades = map[int]func(*model.StarCache) error{
	// Version 0 is a blob written before the version field existed; the
	// layout is otherwise identical.
	0: func(c *model.StarCache) error { return nil },
}

// upgradeCache brings c up to CurrentSchemaVersion in place.
func upgradeCache(c *model.StarCache) error {
	if c.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: %d (this build supports %d)", ErrUnsupportedSchema, c.SchemaVersion, CurrentSchemaVersion)
	}
	for c.SchemaVersion < CurrentSchemaVersion {
		up, ok := upgrades[c.SchemaVersion]
		if !ok {
			return fmt.Errorf("%w: no upgrade from version %d", ErrUnsupportedSchema, c.SchemaVersion)
		}
		if err := up(c); err != nil {
			return fmt.Errorf("upgrade from version %d: %w", c.SchemaVersion, err)
		}
		c.SchemaVersion++
	}
	return nil
}
