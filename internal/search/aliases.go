package search

import "sort"

// Alias tables map the vocabulary users actually type (Brazilian Portuguese UI
// spellings plus common English synonyms) to canonical filter values. All
// lookups run over Normalize()d strings, so diacritics never matter here.

// field identifies which alias table a value resolves against.
type field int

const (
	fieldType field = iota
	fieldStatus
	fieldSource
	fieldCurrency
)

// filterKeys is the canonical key vocabulary for key:value tokens, including
// localized spellings. Keys resolve by edit distance (accept within 2).
var filterKeys = map[string]string{
	"type":     "type",
	"tipo":     "type",
	"evento":   "type",
	"status":   "status",
	"situacao": "status",
	"estado":   "status",
	"source":   "source",
	"origem":   "source",
	"canal":    "source",
	"currency": "currency",
	"moeda":    "currency",
	"amount":   "amount",
	"valor":    "amount",
	"quantia":  "amount",
}

// Type values are dotted-taxonomy prefixes: "payment" matches
// "payment.captured" via the ranker's prefix rule.
var typeAliases = map[string][]string{
	"payment":      {"pagamento", "pagamentos", "compra", "cobranca", "payment"},
	"refund":       {"estorno", "estornado", "reembolso", "devolucao", "refund"},
	"withdrawal":   {"saque", "retirada", "withdrawal"},
	"transfer":     {"transferencia", "ted", "doc", "envio", "transfer"},
	"login":        {"login", "acesso", "entrada", "signin"},
	"subscription": {"assinatura", "recorrencia", "mensalidade", "subscription"},
	"document":     {"documento", "documentos", "arquivo", "document"},
	"webhook":      {"webhook", "notificacao", "callback"},
}

var statusAliases = map[string][]string{
	"success": {"aprovado", "aprovada", "sucesso", "concluido", "concluida", "confirmado", "pago", "paga", "ok", "success"},
	"failed":  {"falhou", "falha", "recusado", "recusada", "negado", "negada", "erro", "failed", "fail"},
	"pending": {"pendente", "aguardando", "processando", "em analise", "analise", "pending"},
}

var sourceAliases = map[string][]string{
	"card":   {"cartao", "cartao de credito", "credito", "debito", "card"},
	"boleto": {"boleto", "boletos"},
	"pix":    {"pix"},
	"wallet": {"carteira", "saldo", "wallet"},
	"api":    {"api", "integracao"},
	"web":    {"web", "site", "portal", "navegador"},
	"mobile": {"mobile", "app", "aplicativo", "celular"},
}

var currencyAliases = map[string][]string{
	"BRL": {"brl", "real", "reais", "r$"},
	"USD": {"usd", "dolar", "dolares", "us$", "$"},
	"EUR": {"eur", "euro", "euros"},
	"GBP": {"gbp", "libra", "libras"},
}

func aliasTable(f field) map[string][]string {
	switch f {
	case fieldType:
		return typeAliases
	case fieldStatus:
		return statusAliases
	case fieldSource:
		return sourceAliases
	default:
		return currencyAliases
	}
}

// sortedKeys keeps fuzzy tie-breaking deterministic across parse calls; map
// iteration order must never leak into resolution results.
func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolveAlias maps a user-supplied value to a canonical value for the field.
// Resolution order: exact alias match, edit distance against aliases with a
// length-scaled threshold, edit distance against the canonical list itself
// (within 2) as a last resort. Returns "" when unresolved.
func resolveAlias(f field, raw string) string {
	v := Normalize(raw)
	if v == "" {
		return ""
	}
	table := aliasTable(f)
	canonicals := sortedKeys(table)

	for _, canonical := range canonicals {
		for _, a := range table[canonical] {
			if v == Normalize(a) {
				return canonical
			}
		}
	}

	best, bestDist := "", int(^uint(0)>>1)
	for _, canonical := range canonicals {
		for _, a := range table[canonical] {
			na := Normalize(a)
			if d := Distance(v, na); d <= threshold(len([]rune(na))) && d < bestDist {
				best, bestDist = canonical, d
			}
		}
	}
	if best != "" {
		return best
	}

	for _, canonical := range canonicals {
		if d := Distance(v, Normalize(canonical)); d <= 2 && d < bestDist {
			best, bestDist = canonical, d
		}
	}
	return best
}

// resolveExactAlias is the cheap path used for bare tokens checked against the
// currency table, where fuzzing arbitrary words into a currency would be wrong.
func resolveExactAlias(f field, raw string) string {
	v := Normalize(raw)
	if v == "" {
		return ""
	}
	table := aliasTable(f)
	for _, canonical := range sortedKeys(table) {
		for _, a := range table[canonical] {
			if v == Normalize(a) {
				return canonical
			}
		}
	}
	return ""
}

// resolveKey maps a key:value key to its canonical filter key, tolerating up
// to two edits. Returns "" when no key is close enough.
func resolveKey(raw string) string {
	v := Normalize(raw)
	if v == "" {
		return ""
	}
	if k, ok := filterKeys[v]; ok {
		return k
	}
	spellings := make([]string, 0, len(filterKeys))
	for s := range filterKeys {
		spellings = append(spellings, s)
	}
	sort.Strings(spellings)

	best, bestDist := "", 3
	for _, spelling := range spellings {
		if d := Distance(v, spelling); d < bestDist {
			best, bestDist = filterKeys[spelling], d
		}
	}
	return best
}
