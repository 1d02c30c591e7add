package database

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// Vector stores an embedding as a Postgres float8[] column. A nil Vector
// round-trips as SQL NULL, which is how activities without an embedding are
// represented.
type Vector []float64

func (v *Vector) Scan(src any) error {
	var arr pq.Float64Array
	if err := arr.Scan(src); err != nil {
		return err
	}
	*v = Vector(arr)
	return nil
}

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return pq.Float64Array(v).Value()
}
