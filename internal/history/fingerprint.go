package history

import (
	"strconv"
	"strings"

	"trademind/internal/model"
)

// Fingerprint identifies one normalized historical query: upper-cased
// symbol, resolution, range bounds, the provider the query resolved to, and
// the sorted indicator names. Two logically identical requests fingerprint
// identically regardless of symbol case or indicator order.
type Fingerprint struct {
	Symbol     string
	Resolution model.Resolution
	From       int64
	To         int64
	Provider   string
	Indicators []string // normalized: lower-cased, de-duplicated, sorted
}

// Key renders the canonical cache key:
// candle:{SYMBOL}:{res}:{from}:{to}:{provider}:{ind1,ind2}.
func (f Fingerprint) Key() string {
	var b strings.Builder
	b.WriteString("candle:")
	b.WriteString(strings.ToUpper(f.Symbol))
	b.WriteByte(':')
	b.WriteString(string(f.Resolution))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(f.From, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(f.To, 10))
	b.WriteByte(':')
	b.WriteString(f.Provider)
	b.WriteByte(':')
	b.WriteString(strings.Join(f.Indicators, ","))
	return b.String()
}
