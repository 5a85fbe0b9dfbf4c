// Package nicotest provides an in-process fake of the Niconico endpoints
// used by the reservation tool.
package nicotest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Page selects the HTML document served by the reservation endpoint
type Page string

const (
	PageDefault         Page = ""
	PageToken           Page = "token"
	PageLogin           Page = "login"
	PageNotFound        Page = "not_found"
	PageSystemError     Page = "system_error"
	PageNotSupported    Page = "not_supported"
	PageAlreadyReserved Page = "already_reserved"
	PageWatchLink       Page = "watch_link"
	PageExpired         Page = "expired"
	PageLimit           Page = "limit"
	PageFinished        Page = "finished"
	PageOverwrite       Page = "overwrite"
	PageEmpty           Page = "empty"
	PageAmbiguous       Page = "ambiguous"
)

// Reservation is one entry of the fake reservation list
type Reservation struct {
	VID     string // digits only
	Title   string
	Status  string
	Unwatch bool
	Expire  int64
}

// Server is a fake upstream. Configure the exported fields before issuing
// requests; Calls and the recorded requests can be inspected afterwards.
type Server struct {
	*httptest.Server

	mutex sync.Mutex

	Mail     string
	Password string
	// RequireLogin makes reservation calls check the session cookie
	RequireLogin bool

	Reservations []Reservation
	// MaxReservations makes regist answer with the overwrite prompt when full
	MaxReservations int
	WatchNumPages   map[string]Page
	RegisterPages   map[string]Page

	// Programs is the search corpus; a row matches when its title or tags
	// contain q
	Programs []map[string]interface{}
	// SyntheticTotal generates rows lv<1000+i> on demand instead of Programs
	SyntheticTotal int
	// TotalCount overrides meta.totalCount when non-zero
	TotalCount   int
	SearchStatus int
	SearchBody   string

	PPV            map[string]bool // "ch1/lv100"
	ServerTime     int64
	ServerTimeBody string

	session        string
	sessionCounter int
	calls          map[string]int
	searchRequests []url.Values
}

// NewServer starts a fake upstream with a login of user@example.com / secret
func NewServer() *Server {
	s := &Server{
		Mail:          "user@example.com",
		Password:      "secret",
		WatchNumPages: map[string]Page{},
		RegisterPages: map[string]Page{},
		PPV:           map[string]bool{},
		ServerTime:    1700000000,
		calls:         map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	mux.HandleFunc("GET /login/done", s.handleLanding)
	mux.HandleFunc("GET /login/failed", s.handleLanding)
	mux.HandleFunc("GET /secure/logout", s.handleLogout)
	mux.HandleFunc("POST /api/watchingreservation", s.handleReservation)
	mux.HandleFunc("POST /api/v2/{service}/contents/search", s.handleSearch)
	mux.HandleFunc("GET /ppv_live/{ch}/{lv}", s.handlePPV)
	mux.HandleFunc("GET /api/getservertime", s.handleServerTime)

	s.Server = httptest.NewServer(mux)
	return s
}

// Calls returns how many requests reached the named handler: login, logout,
// watch_num, regist, overwrite, detaillist, search, ppv, servertime.
func (s *Server) Calls(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls[name]
}

// SearchRequests returns the form of every search request in order
func (s *Server) SearchRequests() []url.Values {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]url.Values(nil), s.searchRequests...)
}

// SearchOffsets returns the _offset of every search request in order
func (s *Server) SearchOffsets() []int {
	var offsets []int
	for _, form := range s.SearchRequests() {
		n, _ := strconv.Atoi(form.Get("_offset"))
		offsets = append(offsets, n)
	}
	return offsets
}

// Reserved returns the digits of every reserved program
func (s *Server) Reserved() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var vids []string
	for _, r := range s.Reservations {
		vids = append(vids, r.VID)
	}
	return vids
}

// ExpireSession invalidates the server-side session
func (s *Server) ExpireSession() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.session = ""
}

func (s *Server) count(name string) {
	s.calls[name]++
}

func (s *Server) authorized(r *http.Request) bool {
	if !s.RequireLogin {
		return true
	}
	c, err := r.Cookie("user_session")
	return err == nil && s.session != "" && c.Value == s.session
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count("login")

	r.ParseForm()
	if r.PostForm.Get("mail_tel") != s.Mail || r.PostForm.Get("password") != s.Password {
		http.Redirect(w, r, "/login/failed", http.StatusFound)
		return
	}

	s.sessionCounter++
	s.session = fmt.Sprintf("user_session_%d_%s", s.sessionCounter, strings.Repeat("a", 16))
	http.SetCookie(w, &http.Cookie{Name: "user_session", Value: s.session, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/login/done", http.StatusFound)
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body>niconico</body></html>")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count("logout")

	s.session = ""
	http.SetCookie(w, &http.Cookie{Name: "user_session", Value: "deleted", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleReservation(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r.ParseForm()
	mode := r.PostForm.Get("mode")
	s.count(mode)

	switch mode {
	case "watch_num":
		s.writePage(w, s.watchNumPage(r), r.PostForm.Get("vid"))
	case "regist", "overwrite":
		s.writePage(w, s.registerPage(r, mode == "overwrite"), r.PostForm.Get("vid"))
	case "detaillist":
		s.writeDetailList(w, r)
	default:
		s.writePage(w, PageSystemError, "")
	}
}

func (s *Server) watchNumPage(r *http.Request) Page {
	vid := r.PostForm.Get("vid")
	if !s.authorized(r) {
		return PageLogin
	}
	if page, ok := s.WatchNumPages[vid]; ok && page != PageDefault {
		return page
	}
	for _, res := range s.Reservations {
		if res.VID == vid {
			return PageAlreadyReserved
		}
	}
	if s.program(vid) == nil && s.SyntheticTotal == 0 {
		return PageNotFound
	}
	return PageToken
}

func (s *Server) registerPage(r *http.Request, overwrite bool) Page {
	vid := r.PostForm.Get("vid")
	if !s.authorized(r) {
		return PageLogin
	}
	if page, ok := s.RegisterPages[vid]; ok && page != PageDefault {
		return page
	}
	if r.PostForm.Get("token") != token(vid) {
		return PageSystemError
	}
	if s.MaxReservations > 0 && len(s.Reservations) >= s.MaxReservations {
		if !overwrite {
			return PageOverwrite
		}
		s.Reservations = s.Reservations[1:]
	}

	title := "lv" + vid
	if p := s.program(vid); p != nil {
		if t, ok := p["title"].(string); ok {
			title = t
		}
	}
	s.Reservations = append(s.Reservations, Reservation{
		VID:     vid,
		Title:   title,
		Status:  "RESERVE",
		Unwatch: true,
		Expire:  0,
	})
	return PageFinished
}

func (s *Server) program(vid string) map[string]interface{} {
	for _, p := range s.Programs {
		if p["contentId"] == "lv"+vid {
			return p
		}
	}
	return nil
}

func token(vid string) string {
	return "ulck_" + vid + "42"
}

func (s *Server) writePage(w http.ResponseWriter, page Page, vid string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, RenderPage(page, vid))
}

// RenderPage returns the reservation page body of the given kind
func RenderPage(page Page, vid string) string {
	var inner string
	switch page {
	case PageToken:
		inner = fmt.Sprintf(`<div class="ts_reserve"><h2>タイムシフト予約</h2>
<a href="javascript:void(0);" class="btn_reserve" onclick="Nicolive.TimeshiftActions.doRegister('lv%s','%s')">予約する</a></div>`, vid, token(vid))
	case PageLogin:
		inner = `<div class="login_box"><p>ログインしてください</p><form action="/login"></form></div>`
	case PageNotFound:
		inner = errorMessage("番組が見つかりません。")
	case PageSystemError:
		inner = errorMessage("システムエラーが発生しました。")
	case PageNotSupported:
		inner = errorMessage("この番組はタイムシフトに対応しておりません。")
	case PageAlreadyReserved:
		inner = errorMessage("既に予約済みです。")
	case PageWatchLink:
		inner = fmt.Sprintf(`<div class="ts_reserved"><a class="watch_btn" href="/watch/lv%s">視聴する</a></div>`, vid)
	case PageExpired:
		inner = errorMessage("タイムシフト予約の申込期限が過ぎています。")
	case PageLimit:
		inner = errorMessage("予約の上限に達しています。")
	case PageFinished:
		inner = `<div class="reserve_complete"><p>タイムシフト予約が完了しました。</p></div>`
	case PageOverwrite:
		inner = `<div class="overwrite_confirm"><p>予約数が上限です。古い予約を上書きしますか？</p></div>`
	case PageAmbiguous:
		inner = errorMessage("この番組はタイムシフトに対応しておりません。") + errorMessage("既に予約済みです。")
	case PageEmpty:
		inner = `<p>メンテナンス中です</p>`
	}
	return `<!DOCTYPE html><html><head><meta charset="utf-8"><title>ニコニコ生放送</title></head><body><div id="main">` +
		inner + `</div></body></html>`
}

func errorMessage(text string) string {
	return `<div class="error_box"><p class="error_message">` + "\n  " + text + "\n" + `</p></div>`
}

type xmlReservedItem struct {
	VID     string `xml:"vid"`
	Title   string `xml:"title"`
	Status  string `xml:"status"`
	Unwatch int    `xml:"unwatch"`
	Expire  int64  `xml:"expire"`
}

type xmlDetailList struct {
	XMLName xml.Name          `xml:"nicolive_video_response"`
	Status  string            `xml:"status,attr"`
	Items   []xmlReservedItem `xml:"timeshift_reserved_detail_list>reserved_item"`
}

func (s *Server) writeDetailList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if !s.authorized(r) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?><nicolive_video_response status="fail"><error><code>notlogin</code></error></nicolive_video_response>`)
		return
	}

	doc := xmlDetailList{Status: "ok"}
	for _, res := range s.Reservations {
		unwatch := 0
		if res.Unwatch {
			unwatch = 1
		}
		doc.Items = append(doc.Items, xmlReservedItem{
			VID:     "lv" + res.VID,
			Title:   res.Title,
			Status:  res.Status,
			Unwatch: unwatch,
			Expire:  res.Expire,
		})
	}
	fmt.Fprint(w, xml.Header)
	xml.NewEncoder(w).Encode(doc)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count("search")

	r.ParseForm()
	form := url.Values{}
	for k, v := range r.PostForm {
		form[k] = append([]string(nil), v...)
	}
	s.searchRequests = append(s.searchRequests, form)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if s.SearchBody != "" {
		fmt.Fprint(w, s.SearchBody)
		return
	}
	if s.SearchStatus != 0 && s.SearchStatus != http.StatusOK {
		w.WriteHeader(s.SearchStatus)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"meta": map[string]interface{}{
				"status":       s.SearchStatus,
				"errorCode":    "QUERY_PARSE_ERROR",
				"errorMessage": "query parse error",
			},
		})
		return
	}

	offset, _ := strconv.Atoi(form.Get("_offset"))
	limit, _ := strconv.Atoi(form.Get("_limit"))
	if limit <= 0 {
		limit = 10
	}

	var rows []map[string]interface{}
	var total int
	if s.SyntheticTotal > 0 {
		total = s.SyntheticTotal
		for i := offset; i < offset+limit && i < s.SyntheticTotal; i++ {
			rows = append(rows, map[string]interface{}{
				"contentId": fmt.Sprintf("lv%d", 1000+i),
				"title":     fmt.Sprintf("program %d", i),
			})
		}
	} else {
		matched := s.matching(form.Get("q"))
		total = len(matched)
		if offset < len(matched) {
			end := offset + limit
			if end > len(matched) {
				end = len(matched)
			}
			rows = matched[offset:end]
		}
	}
	if s.TotalCount != 0 {
		total = s.TotalCount
	}

	data := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		data = append(data, restrict(row, form.Get("fields")))
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"meta": map[string]interface{}{
			"status":     200,
			"totalCount": total,
			"id":         "00000000-0000-0000-0000-000000000000",
		},
		"data": data,
	})
}

func (s *Server) matching(q string) []map[string]interface{} {
	var matched []map[string]interface{}
	for _, p := range s.Programs {
		title, _ := p["title"].(string)
		tags, _ := p["tags"].(string)
		if q == "" || strings.Contains(title, q) || strings.Contains(tags, q) {
			matched = append(matched, p)
		}
	}
	return matched
}

func restrict(row map[string]interface{}, fields string) map[string]interface{} {
	if fields == "" {
		return row
	}
	out := map[string]interface{}{}
	for _, f := range strings.Split(fields, ",") {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

func (s *Server) handlePPV(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count("ppv")

	if s.PPV[r.PathValue("ch")+"/"+r.PathValue("lv")] {
		fmt.Fprint(w, "<html><body>ppv</body></html>")
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleServerTime(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count("servertime")

	if s.ServerTimeBody != "" {
		fmt.Fprint(w, s.ServerTimeBody)
		return
	}
	fmt.Fprintf(w, "servertime=%d&status=ok", s.ServerTime)
}
