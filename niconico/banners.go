package niconico

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"nicotsm/internal"
)

type bannerKind int

const (
	bannerLogin bannerKind = iota
	bannerNotFound
	bannerSystemError
	bannerNotSupported
	bannerAlreadyReserved
	bannerWatchLink
	bannerExpired
	bannerLimit
	bannerFinished
	bannerOverwrite
)

// banner is one recognizable element of the reservation pages. An element
// matches when tag and class agree and, if text is set, its whitespace
// normalized text equals text exactly.
type banner struct {
	kind  bannerKind
	tag   string
	class string
	text  string
}

var banners = []banner{
	{bannerLogin, "div", "login_box", ""},
	{bannerNotFound, "p", "error_message", "番組が見つかりません。"},
	{bannerSystemError, "p", "error_message", "システムエラーが発生しました。"},
	{bannerNotSupported, "p", "error_message", "この番組はタイムシフトに対応しておりません。"},
	{bannerAlreadyReserved, "p", "error_message", "既に予約済みです。"},
	{bannerWatchLink, "a", "watch_btn", ""},
	{bannerExpired, "p", "error_message", "タイムシフト予約の申込期限が過ぎています。"},
	{bannerLimit, "p", "error_message", "予約の上限に達しています。"},
	{bannerFinished, "div", "reserve_complete", ""},
	{bannerOverwrite, "div", "overwrite_confirm", ""},
}

var registerTokenPattern = regexp.MustCompile(`Nicolive\.TimeshiftActions\.doRegister\('lv(\d+)','(ulck_\d+)'\)`)

// page is the classification input extracted from one HTML response
type page struct {
	kinds  map[bannerKind]bool
	tokens map[string]string // lv digits -> token
}

func scanPage(body []byte) (*page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, internal.NewInvalidResponseError("reservation page is not HTML").Wrap(err)
	}

	p := &page{kinds: map[bannerKind]bool{}, tokens: map[string]string{}}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if onclick := attr(n, "onclick"); onclick != "" {
				for _, m := range registerTokenPattern.FindAllStringSubmatch(onclick, -1) {
					p.tokens[m[1]] = m[2]
				}
			}
			for _, b := range banners {
				if b.matches(n) {
					p.kinds[b.kind] = true
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return p, nil
}

func (b banner) matches(n *html.Node) bool {
	if n.Data != b.tag || !hasClass(n, b.class) {
		return false
	}
	return b.text == "" || normalizedText(n) == b.text
}

// step1Outcomes maps token lookup banners onto outcomes
var step1Outcomes = map[bannerKind]internal.Outcome{
	bannerNotFound:        internal.OutcomeNotFound,
	bannerSystemError:     internal.OutcomeNotFound,
	bannerNotSupported:    internal.OutcomeNotSupported,
	bannerAlreadyReserved: internal.OutcomeAlreadyRegistered,
	bannerWatchLink:       internal.OutcomeAlreadyRegistered,
	bannerExpired:         internal.OutcomeExpired,
	bannerLimit:           internal.OutcomeMaxReservation,
}

// step2Outcomes maps registration banners onto outcomes
var step2Outcomes = map[bannerKind]internal.Outcome{
	bannerFinished:  internal.OutcomeRegistered,
	bannerOverwrite: internal.OutcomeMaxReservation,
}

// classifyTokenPage returns either a registration token or a terminal
// outcome for the watch_num response of vid.
func classifyTokenPage(body []byte, vid string) (token string, outcome internal.Outcome, err error) {
	p, err := scanPage(body)
	if err != nil {
		return "", internal.OutcomeInvalidResponse, nil
	}
	if p.kinds[bannerLogin] {
		return "", 0, internal.NewLoginRequiredError()
	}

	outcomes := p.outcomes(step1Outcomes)
	switch {
	case len(p.tokens) > 0 && len(outcomes) == 0:
		token, ok := p.tokens[vid]
		if !ok || len(p.tokens) > 1 {
			return "", internal.OutcomeInvalidResponse, nil
		}
		return token, 0, nil
	case len(p.tokens) == 0 && len(outcomes) == 1:
		for o := range outcomes {
			return "", o, nil
		}
	}
	return "", internal.OutcomeInvalidResponse, nil
}

// classifyRegisterPage returns the outcome of a regist/overwrite response
func classifyRegisterPage(body []byte) (internal.Outcome, error) {
	p, err := scanPage(body)
	if err != nil {
		return internal.OutcomeInvalidResponse, nil
	}
	if p.kinds[bannerLogin] {
		return 0, internal.NewLoginRequiredError()
	}

	outcomes := p.outcomes(step2Outcomes)
	if len(outcomes) == 1 {
		for o := range outcomes {
			return o, nil
		}
	}
	return internal.OutcomeInvalidResponse, nil
}

func (p *page) outcomes(table map[bannerKind]internal.Outcome) map[internal.Outcome]bool {
	found := map[internal.Outcome]bool{}
	for kind := range p.kinds {
		if o, ok := table[kind]; ok {
			found[o] = true
		}
	}
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func normalizedText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
