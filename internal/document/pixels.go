package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Pixels is an integer pixel count. Browser form inputs deliver numbers as
// strings, so both 48 and "48" decode to 48.
type Pixels int

func (p *Pixels) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var n json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	} else {
		n = json.Number(data)
	}

	if i, err := n.Int64(); err == nil {
		*p = Pixels(i)
		return nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return fmt.Errorf("pixels: %q is not a number", string(data))
	}
	*p = Pixels(f)
	return nil
}

// Ptr returns a pointer to p, for optional fields.
func (p Pixels) Ptr() *Pixels { return &p }
