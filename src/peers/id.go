package peers

import (
	"fmt"
	"strconv"
	"strings"
)

// ID uniquely names a node of the cluster.
type ID uint32

// ParseID reads an ID from its textual form: a decimal integer, or a
// hexadecimal integer with a 0x prefix.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty peer id")
	}

	var (
		v   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(rest, 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid peer id %q", s)
	}

	return ID(v), nil
}

// String returns the decimal representation of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Hex returns the zero-padded, 8-digit hexadecimal representation of the ID.
func (id ID) Hex() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// Strings renders a slice of IDs in decimal form.
func Strings(ids []ID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.String())
	}
	return res
}
