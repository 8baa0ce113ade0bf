package export

import (
	"context"

	"github.com/hb9tf/phenocart/sensor"
)

// Exporter drains records until the channel is closed.
type Exporter interface {
	Write(context.Context, <-chan sensor.Record) error
}
