package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Key returns a stable fingerprint of a plan. Plans built from filters that
// differ only in input order share a key.
func Key(p model.QueryPlan) string {
	var b strings.Builder
	b.WriteString("family=")
	b.WriteString(p.Family)

	b.WriteString(";stations=")
	if p.Stations == nil {
		b.WriteString("*")
	}
	for i, s := range p.Stations {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s))
	}

	b.WriteString(";periods=")
	for i, per := range p.Periods {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(per))
	}

	b.WriteString(";years=")
	b.WriteString(p.Years.String())

	b.WriteString(";elements=")
	b.WriteString(strings.Join(p.Elements, ","))

	return fmt.Sprintf("%s:%016x", p.Family, xxhash.Sum64String(b.String()))
}
