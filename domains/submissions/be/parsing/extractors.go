package parsing

import (
	"regexp"
	"strings"
	"time"

	"github.com/zenGate-Global/tender-engine/platform/go/money"
)

// Extractor turns receipt text into a Receipt. ok is false unless the extractor is confident
// the text came from its portal.
type Extractor interface {
	Name() string
	Extract(text string) (Receipt, bool)
}

// almaty is the fixed UTC+5 offset used by Kazakh portals.
var almaty = time.FixedZone("ALMT", 5*60*60)

// portalExtractor matches one portal's receipt layout. marker and receipt must both match.
type portalExtractor struct {
	name            string
	portalURL       string
	defaultCurrency string
	marker          *regexp.Regexp
	receipt         *regexp.Regexp
	submission      *regexp.Regexp
	account         *regexp.Regexp
	amount          *regexp.Regexp
	link            *regexp.Regexp
	submittedAt     func(text string) *time.Time
}

func (e *portalExtractor) Name() string { return e.name }

func (e *portalExtractor) Extract(text string) (Receipt, bool) {
	if !e.marker.MatchString(text) {
		return Receipt{}, false
	}
	number := firstGroup(e.receipt, text)
	if number == "" {
		return Receipt{}, false
	}

	receipt := Receipt{
		Portal:             e.name,
		ReceiptNumber:      number,
		PortalSubmissionID: firstGroup(e.submission, text),
		Account:            firstGroup(e.account, text),
		Links:              Links{Portal: e.portalURL},
	}
	if link := e.link.FindString(text); link != "" {
		receipt.Links.Portal = strings.TrimRight(link, ".,;)")
	}
	if e.submittedAt != nil {
		receipt.SubmittedAt = e.submittedAt(text)
	}
	if raw := firstGroup(e.amount, text); raw != "" {
		if value, currency, ok := money.Parse(raw); ok {
			if currency == "" {
				currency = e.defaultCurrency
			}
			receipt.Amount = &Amount{Value: value, Currency: currency}
		}
	}
	return receipt, true
}

func firstGroup(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var (
	dottedDateTime = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2}(?::\d{2})?)`)
	isoDateTime    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}(?::\d{2})?)\s*(UTC|Z|CET|CEST|[+-]\d{2}:\d{2})?`)
	binPattern     = regexp.MustCompile(`(?i)(?:БИН|ИИН|BIN|IIN)\s*[:№]?\s*(\d{12})`)
)

// dottedInAlmaty reads "02.01.2006 15:04[:05]" as Almaty time.
func dottedInAlmaty(text string) *time.Time {
	m := dottedDateTime.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	layout := "02.01.2006 15:04"
	if len(m[2]) == len("15:04:05") {
		layout = "02.01.2006 15:04:05"
	}
	t, err := time.ParseInLocation(layout, m[1]+" "+m[2], almaty)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// isoWithZone reads "2006-01-02 15:04[:05] [zone]"; a missing zone means UTC.
func isoWithZone(text string) *time.Time {
	m := isoDateTime.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	layout := "2006-01-02 15:04"
	if len(m[2]) == len("15:04:05") {
		layout = "2006-01-02 15:04:05"
	}

	loc := time.UTC
	switch zone := m[3]; {
	case zone == "CET":
		loc = time.FixedZone("CET", 60*60)
	case zone == "CEST":
		loc = time.FixedZone("CEST", 2*60*60)
	case strings.HasPrefix(zone, "+"), strings.HasPrefix(zone, "-"):
		offset, err := time.Parse("-07:00", zone)
		if err == nil {
			_, secs := offset.Zone()
			loc = time.FixedZone(zone, secs)
		}
	}

	t, err := time.ParseInLocation(layout, m[1]+" "+m[2], loc)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// DefaultChain returns the extractors of ChainVersion in the order they are tried.
func DefaultChain() []Extractor {
	return []Extractor{
		&portalExtractor{
			name:            PortalGoszakup,
			portalURL:       "https://goszakup.gov.kz",
			defaultCurrency: "KZT",
			marker:          regexp.MustCompile(`(?i)goszakup\.gov\.kz|портал государственных закупок`),
			receipt:         regexp.MustCompile(`(?i)(?:квитанция|receipt)\s*(?:№|no\.?|#)\s*([A-Z0-9][A-Z0-9-]*)`),
			submission:      regexp.MustCompile(`(?i)(?:номер заявки|заявка\s*№|application\s*(?:no\.?|number|#))\s*[:№]?\s*(\d+)`),
			account:         binPattern,
			amount:          regexp.MustCompile(`(?i)(?:сумма|amount)[^:\n]*:[ \t]*([0-9][0-9 \x{00a0}.,]*[ \t]*(?:₸|тг\.?|KZT)?)`),
			link:            regexp.MustCompile(`https?://(?:www\.)?goszakup\.gov\.kz/\S*`),
			submittedAt:     dottedInAlmaty,
		},
		&portalExtractor{
			name:            PortalSamruk,
			portalURL:       "https://zakup.sk.kz",
			defaultCurrency: "KZT",
			marker:          regexp.MustCompile(`(?i)zakup\.sk\.kz|самрук-қазына|samruk-kazyna`),
			receipt:         regexp.MustCompile(`(?i)(?:подтверждение|confirmation)\s*(?:№|no\.?|#)\s*([A-Z0-9][A-Z0-9-]*)`),
			submission:      regexp.MustCompile(`(?i)(?:лот|lot)\s*(?:№|no\.?|#)\s*([0-9][0-9-]*)`),
			account:         binPattern,
			amount:          regexp.MustCompile(`(?i)(?:сумма|amount)[^:\n]*:[ \t]*([0-9][0-9 \x{00a0}.,]*[ \t]*(?:₸|тг\.?|KZT)?)`),
			link:            regexp.MustCompile(`https?://(?:www\.)?zakup\.sk\.kz/\S*`),
			submittedAt:     dottedInAlmaty,
		},
		&portalExtractor{
			name:            PortalTED,
			portalURL:       "https://ted.europa.eu",
			defaultCurrency: "EUR",
			marker:          regexp.MustCompile(`(?i)ted\.europa\.eu|tenders electronic daily`),
			receipt:         regexp.MustCompile(`(?i)(?:submission\s+)?receipt\s*(?:id|no\.?|number|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]*)`),
			submission:      regexp.MustCompile(`(?i)notice(?:\s+number)?\s*[:#]?\s*(\d{1,8}-\d{4})`),
			account:         regexp.MustCompile(`(?i)(?:economic operator|tenderer)(?:\s+id)?\s*[:#]\s*(\S+)`),
			amount:          regexp.MustCompile(`(?i)(?:total\s+(?:value|amount)|amount)[ \t]*:[ \t]*((?:EUR|€)?[ \t]*[0-9][0-9 \x{00a0}.,]*[ \t]*(?:EUR|€)?)`),
			link:            regexp.MustCompile(`https?://ted\.europa\.eu/\S*`),
			submittedAt:     isoWithZone,
		},
	}
}
