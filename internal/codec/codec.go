// Package codec encodes container values for persistence. Encoding first
// tries encoding/json and falls back to a cycle-aware walk that replaces
// revisited references with CircularMarker.
package codec

import (
	"encoding/json"
	"errors"
	"strings"
)

// CircularMarker replaces any reference revisited during one encoding pass.
const CircularMarker = "[Circular Reference]"

// Marshal encodes v. A cyclic value is re-encoded with EncodeSafe. If both
// fail and fallback is non-nil, the fallback payload is encoded instead.
func Marshal(v any, fallback func() any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err == nil {
		return out, nil
	}
	primaryErr := err
	if IsCycleError(err) {
		out, err = EncodeSafe(v)
		if err == nil {
			return out, nil
		}
		primaryErr = err
	}
	if fallback != nil {
		out, err = json.Marshal(fallback())
		if err == nil {
			return out, nil
		}
		return nil, errors.Join(primaryErr, err)
	}
	return nil, primaryErr
}

// IsCycleError reports whether err is encoding/json's cycle detection error.
func IsCycleError(err error) bool {
	var uve *json.UnsupportedValueError
	return errors.As(err, &uve) && strings.Contains(uve.Str, "cycle")
}
