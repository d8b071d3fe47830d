package db

import (
	"database/sql"
	"fmt"
	"time"
)

func base() time.Time {
	return time.Date(2026, 9, 22, 19, 0, 0, 0, time.UTC)
}

// fakeRow assigns values positionally, covering the destination types scanIncident uses.
type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		v := r.values[i]
		switch target := d.(type) {
		case *int64:
			*target = v.(int64)
		case *int:
			*target = v.(int)
		case *string:
			*target = v.(string)
		case *bool:
			*target = v.(bool)
		case *time.Time:
			*target = v.(time.Time)
		case *[]byte:
			*target = v.([]byte)
		case *sql.NullFloat64:
			if err := target.Scan(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}
