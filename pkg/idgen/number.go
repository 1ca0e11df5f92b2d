package idgen

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TenantCode derives the short, stable prefix used in human-readable numbers: up to
// four alphanumerics of the tenant id followed by four hex digits of its hash, so
// tenants sharing a name prefix still get distinct codes.
func TenantCode(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(tenantID) {
		if b.Len() == 4 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		b.WriteString("T")
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return fmt.Sprintf("%s%04X", b.String(), h.Sum32()&0xFFFF)
}

// TransactionNumbers issues budget transaction numbers of the form
//
//	BT-<tenant code>-<yyyymmdd>-<snowflake id in base 36>
//
// The suffix carries the whole snowflake id, so numbers from one worker never repeat.
// Two workers configured with the same id can still collide; the database unique
// index catches that.
type TransactionNumbers struct {
	sf *Snowflake
}

func NewTransactionNumbers(sf *Snowflake) *TransactionNumbers {
	return &TransactionNumbers{sf: sf}
}

func (g *TransactionNumbers) Next(tenantID string, at time.Time) string {
	var id int64
	if g.sf != nil {
		id = g.sf.Generate()
	} else {
		id = NextID()
	}
	return fmt.Sprintf("BT-%s-%s-%s", TenantCode(tenantID), at.UTC().Format("20060102"), strings.ToUpper(strconv.FormatInt(id, 36)))
}
