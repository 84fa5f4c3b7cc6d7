package jam

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

// patch decodes a partial update over an existing struct.
// Keys absent from fields keep their current value; an explicit nil zeroes the field.
func patch(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		ZeroFields: true,
		Result:     out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(fields); err != nil {
		return errors.Wrap(err, "failed to apply update")
	}
	return nil
}
