package detect

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"
	"pt-watch/internal/utils"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

const (
	engineRetryAttempts = 3
	engineRetryDelay    = 300 * time.Millisecond
	maxPageBytes        = 2 << 20
)

// NexusPHPDetector checks registration and invite state by scraping the
// standard NexusPHP pages. It works on the large family of trackers built on
// that codebase and on lookalike skins.
type NexusPHPDetector struct{}

// NewNexusPHPDetector creates a detector.
func NewNexusPHPDetector() *NexusPHPDetector {
	return &NexusPHPDetector{}
}

// page is one fetched tracker page, parsed lazily.
type page struct {
	url      string
	status   int
	body     string
	attempts int

	doc  *goquery.Document
	text string
}

func (p *page) document() *goquery.Document {
	if p.doc == nil {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.body))
		if err != nil {
			doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
		}
		p.doc = doc
	}
	return p.doc
}

// pageText returns the visible text with whitespace collapsed.
func (p *page) pageText() string {
	if p.text == "" {
		p.text = utils.CollapseWhitespace(p.document().Text())
	}
	return p.text
}

func (p *page) hasSignupForm() bool {
	return p.document().Find("form").Length() > 0
}

func (p *page) hasInviteField() bool {
	found := false
	p.document().Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if strings.Contains(strings.ToLower(name), "invite") {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}
	text := p.pageText()
	return strings.Contains(text, "邀请码") || strings.Contains(text, "邀請碼") ||
		strings.Contains(strings.ToLower(text), "invitation")
}

// looksLikeLogin detects a login redirect: login.php in the final URL, or a
// password field next to login wording.
func (p *page) looksLikeLogin() bool {
	if strings.Contains(p.url, "login.php") {
		return true
	}
	lower := strings.ToLower(p.body)
	if strings.Contains(lower, `type="password"`) &&
		(strings.Contains(lower, "login") || strings.Contains(lower, "登录") || strings.Contains(lower, "登陆")) {
		return true
	}
	return false
}

func (p *page) title() string {
	m := htmlTitleRe.FindStringSubmatch(p.body)
	if m == nil {
		return ""
	}
	return utils.CollapseWhitespace(html.UnescapeString(m[1]))
}

// fetchPage GETs a URL with retries and returns the decoded page.
func fetchPage(ctx context.Context, client *http.Client, pageURL string, headers map[string]string) (*page, int, error) {
	resp, attempts, err := httpclient.DoWithRetry(ctx, client, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, engineRetryAttempts, engineRetryDelay)
	if err != nil {
		return nil, attempts, err
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	body, err := httpclient.ReadBody(resp, maxPageBytes)
	if err != nil {
		return nil, attempts, err
	}

	return &page{
		url:      finalURL,
		status:   resp.StatusCode,
		body:     string(body),
		attempts: attempts,
	}, attempts, nil
}

// CheckRegistration walks the signup page candidates and classifies the
// registration state.
func (d *NexusPHPDetector) CheckRegistration(ctx context.Context, client *http.Client, site models.Site, userAgent string) AspectResult {
	headers := map[string]string{"User-Agent": userAgent}

	var (
		lastErr        error
		lastErrURL     string
		lastErrDetail  string
		lastHTTPErr    *page
		lastHTTPErrTry int
	)

	paths := []string{"signup.php"}
	if raw := strings.TrimSpace(site.RegistrationPath); raw != "" {
		paths = []string{raw}
	}

	for _, path := range paths {
		pageURL := JoinURL(site.URL, path)
		p, attempts, err := fetchPage(ctx, client, pageURL, headers)
		if err != nil {
			lastErr = err
			lastErrURL = pageURL
			lastErrDetail = AppendRetryDetail(FormatErrorDetail(err), attempts)
			continue
		}
		if p.status == http.StatusNotFound {
			continue
		}
		if p.status >= 500 {
			lastHTTPErr = p
			lastHTTPErrTry = attempts
			continue
		}

		text := p.pageText()
		if pat, ok := firstMatch(registrationClosedPatterns, text); ok {
			return AspectResult{
				State:    StateClosed,
				Evidence: Evidence{URL: p.url, HTTPStatus: intPtr(p.status), Reason: "registration_closed", Matched: pat},
			}
		}
		if !p.hasSignupForm() {
			return AspectResult{
				State:    StateClosed,
				Evidence: Evidence{URL: p.url, HTTPStatus: intPtr(p.status), Reason: "signup_form_missing"},
			}
		}
		if p.hasInviteField() {
			return AspectResult{
				State:    StateClosed,
				Evidence: Evidence{URL: p.url, HTTPStatus: intPtr(p.status), Reason: "invite_required"},
			}
		}
		return AspectResult{
			State:    StateOpen,
			Evidence: Evidence{URL: p.url, HTTPStatus: intPtr(p.status), Reason: "signup_form_detected"},
		}
	}

	if lastErr != nil {
		if lastErrURL == "" {
			lastErrURL = JoinURL(site.URL, "signup.php")
		}
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:    lastErrURL,
				Reason: fmt.Sprintf("registration_error:%s", ErrorTypeName(lastErr)),
				Detail: lastErrDetail,
			},
		}
	}
	if lastHTTPErr != nil {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        lastHTTPErr.url,
				HTTPStatus: intPtr(lastHTTPErr.status),
				Reason:     fmt.Sprintf("registration_error:HTTP%d", lastHTTPErr.status),
				Detail:     AppendRetryDetail("", lastHTTPErrTry),
			},
		}
	}
	return AspectResult{
		State: StateUnknown,
		Evidence: Evidence{
			URL:        JoinURL(site.URL, "signup.php"),
			HTTPStatus: intPtr(http.StatusNotFound),
			Reason:     "signup_page_not_found",
		},
	}
}

// CheckInvites inspects the homepage quota header and the invite page.
func (d *NexusPHPDetector) CheckInvites(ctx context.Context, client *http.Client, site models.Site, userAgent, cookieHeader string) AspectResult {
	if cookieHeader == "" {
		return AspectResult{
			State:    StateUnknown,
			Evidence: Evidence{URL: JoinURL(site.URL, "invite.php"), Reason: "missing_cookie"},
		}
	}
	headers := map[string]string{"User-Agent": userAgent, "Cookie": cookieHeader}
	adapter := adapterFor(site.Domain)

	// Many NexusPHP skins expose the invite quota in the top nav on the
	// homepage: "邀请[发送]: 12(0)".
	home, attempts, err := fetchPage(ctx, client, site.URL, headers)
	if err != nil {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:    site.URL,
				Reason: fmt.Sprintf("invites_error:%s", ErrorTypeName(err)),
				Detail: AppendRetryDetail(FormatErrorDetail(err), attempts),
			},
		}
	}
	if home.status >= 500 {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        home.url,
				HTTPStatus: intPtr(home.status),
				Reason:     fmt.Sprintf("invites_error:HTTP%d", home.status),
				Detail:     AppendRetryDetail("", attempts),
			},
		}
	}
	if home.looksLikeLogin() {
		return AspectResult{
			State:    StateUnknown,
			Evidence: Evidence{URL: home.url, HTTPStatus: intPtr(home.status), Reason: "not_logged_in"},
		}
	}

	quotaPerm, quotaTemp, quotaMatched := parseHomeInviteQuota(home.pageText())
	var quotaTotal *int
	if quotaPerm != nil {
		quotaTotal = intPtr(*quotaPerm + valueOrZero(quotaTemp))
		if *quotaPerm == 0 && valueOrZero(quotaTemp) == 0 && quotaMatched != "" {
			evidenceURL := home.url
			if uid := extractUserID(adapter, home.body); uid != "" {
				evidenceURL = JoinURL(site.URL, "invite.php?id="+uid)
			}
			return AspectResult{
				State:     StateClosed,
				Available: intPtr(0),
				Permanent: quotaPerm,
				Temporary: intPtr(valueOrZero(quotaTemp)),
				Evidence: Evidence{
					URL:        evidenceURL,
					HTTPStatus: intPtr(home.status),
					Reason:     "invite_quota_home_zero",
					Matched:    quotaMatched,
				},
			}
		}
	}

	inviteURL := extractInviteURL(home.document(), site.URL)
	if inviteURL == "" {
		if uid := extractUserID(adapter, home.body); uid != "" {
			inviteURL = JoinURL(site.URL, "invite.php?id="+uid)
		}
	}

	// Some sites use /invite without .php; keep a small fallback list.
	var candidates []string
	if preferred := strings.TrimSpace(site.InvitePath); preferred != "" {
		candidates = append(candidates, JoinURL(site.URL, preferred))
	}
	if inviteURL != "" {
		candidates = append(candidates, inviteURL)
	}
	candidates = append(candidates, JoinURL(site.URL, "invite.php"), JoinURL(site.URL, "invite"))

	var (
		invite         *page
		lastErr        error
		lastErrURL     string
		lastErrDetail  string
		lastHTTPErr    *page
		lastHTTPErrTry int
	)
	for _, u := range candidates {
		p, fetchAttempts, fetchErr := fetchPage(ctx, client, u, headers)
		if fetchErr != nil {
			lastErr = fetchErr
			lastErrURL = u
			lastErrDetail = AppendRetryDetail(FormatErrorDetail(fetchErr), fetchAttempts)
			continue
		}
		if p.status == http.StatusNotFound {
			continue
		}
		if p.status >= 500 {
			lastHTTPErr = p
			lastHTTPErrTry = fetchAttempts
			continue
		}
		invite = p
		break
	}

	if invite == nil {
		fallbackURL := inviteURL
		if fallbackURL == "" {
			fallbackURL = JoinURL(site.URL, "invite.php")
		}
		if lastErr != nil {
			if lastErrURL == "" {
				lastErrURL = fallbackURL
			}
			return AspectResult{
				State: StateUnknown,
				Evidence: Evidence{
					URL:    lastErrURL,
					Reason: fmt.Sprintf("invites_error:%s", ErrorTypeName(lastErr)),
					Detail: lastErrDetail,
				},
			}
		}
		if lastHTTPErr != nil {
			return AspectResult{
				State: StateUnknown,
				Evidence: Evidence{
					URL:        lastHTTPErr.url,
					HTTPStatus: intPtr(lastHTTPErr.status),
					Reason:     fmt.Sprintf("invites_error:HTTP%d", lastHTTPErr.status),
					Detail:     AppendRetryDetail("", lastHTTPErrTry),
				},
			}
		}
		detail := ""
		if quotaTotal != nil {
			detail = fmt.Sprintf("quota_perm=%d quota_temp=%d quota_total=%d",
				valueOrZero(quotaPerm), valueOrZero(quotaTemp), *quotaTotal)
		}
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        fallbackURL,
				HTTPStatus: intPtr(http.StatusNotFound),
				Reason:     "invite_page_not_found",
				Detail:     detail,
			},
		}
	}

	if invite.looksLikeLogin() {
		return AspectResult{
			State:    StateUnknown,
			Evidence: Evidence{URL: invite.url, HTTPStatus: intPtr(invite.status), Reason: "not_logged_in"},
		}
	}

	inviteText := invite.pageText()
	if pat, ok := firstMatch(inviteDisabledPatterns, inviteText); ok {
		detail := ""
		if quotaTotal != nil {
			detail = fmt.Sprintf("quota_perm=%d quota_temp=%d quota_total=%d",
				valueOrZero(quotaPerm), valueOrZero(quotaTemp), *quotaTotal)
		}
		return AspectResult{
			State:     StateClosed,
			Available: intPtr(0),
			Permanent: quotaPerm,
			Temporary: quotaTemp,
			Evidence: Evidence{
				URL:        invite.url,
				HTTPStatus: intPtr(invite.status),
				Reason:     "invites_disabled",
				Matched:    pat,
				Detail:     detail,
			},
		}
	}

	count := quotaTotal
	matched := quotaMatched
	if count == nil {
		count, matched = parseInviteCount(inviteText)
	}

	closedByPermission := func(matchedPattern string) AspectResult {
		permanent := quotaPerm
		temporary := quotaTemp
		if quotaPerm == nil {
			permanent = count
			temporary = intPtr(0)
		}
		detail := ""
		if count != nil {
			detail = fmt.Sprintf("quota_total=%d", *count)
		}
		return AspectResult{
			State:     StateClosed,
			Available: intPtr(0),
			Permanent: permanent,
			Temporary: temporary,
			Evidence: Evidence{
				URL:        invite.url,
				HTTPStatus: intPtr(invite.status),
				Reason:     "invite_permission_denied",
				Matched:    matchedPattern,
				Detail:     detail,
			},
		}
	}

	actionStatus, actionMatched := inviteSendActionStatus(invite.document())
	if actionStatus != nil && !*actionStatus {
		return closedByPermission(actionMatched)
	}

	if pat, ok := permissionDenied(adapter, inviteText, invite.body); ok {
		return closedByPermission(pat)
	}

	if count == nil {
		return AspectResult{
			State:    StateUnknown,
			Evidence: Evidence{URL: invite.url, HTTPStatus: intPtr(invite.status), Reason: "invite_count_not_found"},
		}
	}

	if actionStatus == nil && *count > 0 {
		// For an "open" verdict a visible send/create invite action is
		// required; some sites hide it without any text marker.
		logrus.Debugf("invite action not found on %s despite quota %d", site.Domain, *count)
		permanent := quotaPerm
		temporary := quotaTemp
		if quotaPerm == nil {
			permanent = count
			temporary = intPtr(0)
		}
		return AspectResult{
			State:     StateClosed,
			Available: intPtr(0),
			Permanent: permanent,
			Temporary: temporary,
			Evidence: Evidence{
				URL:        invite.url,
				HTTPStatus: intPtr(invite.status),
				Reason:     "invite_action_not_found",
				Detail:     fmt.Sprintf("quota_total=%d", *count),
			},
		}
	}

	state := StateClosed
	if *count > 0 {
		state = StateOpen
	}
	reason := "invite_count_parsed"
	if quotaTotal != nil {
		reason = "invite_quota_home_header"
	}
	evidenceMatched := actionMatched
	if evidenceMatched == "" {
		evidenceMatched = matched
	}
	permanent := quotaPerm
	temporary := quotaTemp
	if quotaPerm == nil {
		permanent = count
		temporary = intPtr(0)
	}
	return AspectResult{
		State:     state,
		Available: count,
		Permanent: permanent,
		Temporary: temporary,
		Evidence: Evidence{
			URL:        invite.url,
			HTTPStatus: intPtr(invite.status),
			Reason:     reason,
			Matched:    evidenceMatched,
		},
	}
}

// parseHomeInviteQuota reads the "邀请 [发送]: N (M)" header.
func parseHomeInviteQuota(text string) (permanent, temporary *int, matched string) {
	m := homeInviteQuotaRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, ""
	}
	perm, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, nil, ""
	}
	temp := 0
	if m[2] != "" {
		if t, err := strconv.Atoi(m[2]); err == nil {
			temp = t
		}
	}
	return intPtr(perm), intPtr(temp), m[0]
}

// parseInviteCount scans the invite page text for a usable count.
func parseInviteCount(text string) (*int, string) {
	for _, re := range inviteCountPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[len(m)-1])
		if err != nil {
			continue
		}
		return intPtr(n), m[0]
	}
	return nil, ""
}

// extractInviteURL scores anchors by how invite-like they look and resolves
// the best one against the site URL.
func extractInviteURL(doc *goquery.Document, baseURL string) string {
	bestScore := 0
	bestHref := ""
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		text := utils.CollapseWhitespace(s.Text())
		score := 0
		if strings.Contains(strings.ToLower(href), "invite") {
			score += 2
		}
		if strings.Contains(text, "邀请") || strings.Contains(text, "邀請") {
			score += 2
		}
		if strings.Contains(text, "发送") || strings.Contains(text, "發送") {
			score += 1
		}
		if score > bestScore {
			bestScore = score
			bestHref = href
		}
	})
	if bestHref == "" {
		return ""
	}
	return JoinURL(baseURL, bestHref)
}

func actionLabel(s *goquery.Selection) string {
	if goquery.NodeName(s) == "input" {
		return utils.CollapseWhitespace(s.AttrOr("value", ""))
	}
	return utils.CollapseWhitespace(s.Text())
}

// inviteSendActionStatus looks for the "create invite" action.
// Returns (true, label) when present and enabled, (false, label) when present
// but disabled, and (nil, "") when the page gives no signal either way.
func inviteSendActionStatus(doc *goquery.Document) (*bool, string) {
	var status *bool
	matched := ""

	// NexusPHP exposes "create invite" as a POST form with action
	// "...type=new" and a submit control; a disabled control means no
	// permission.
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action := strings.ToLower(form.AttrOr("action", ""))
		if !strings.Contains(action, "type=new") && !strings.Contains(action, "takeinvite.php") {
			return true
		}
		done := false
		form.Find("input, button").EachWithBreak(func(_ int, ctl *goquery.Selection) bool {
			if goquery.NodeName(ctl) == "input" {
				itype := strings.ToLower(ctl.AttrOr("type", ""))
				if itype != "" && itype != "submit" && itype != "button" {
					return true
				}
			}
			label := actionLabel(ctl)
			if label == "" {
				label = action
			}
			_, disabled := ctl.Attr("disabled")
			enabled := !disabled
			status = &enabled
			matched = label
			done = true
			return false
		})
		return !done
	})
	if status != nil {
		return status, matched
	}

	// Some sites expose a link to "type=new" instead of a form.
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.ToLower(a.AttrOr("href", ""))
		if !strings.Contains(href, "type=new") && !strings.Contains(href, "takeinvite.php") {
			return true
		}
		label := utils.CollapseWhitespace(a.Text())
		if label == "" {
			label = href
		}
		enabled := true
		status = &enabled
		matched = label
		return false
	})
	if status != nil {
		return status, matched
	}

	bodyText := utils.CollapseWhitespace(doc.Text())
	for _, token := range []string{"邀请其他人", "邀請其他人", "邀请他人", "邀請他人"} {
		if strings.Contains(bodyText, token) {
			enabled := true
			return &enabled, "邀请其他人"
		}
	}

	// Disabled control with a permission hint in its label.
	doc.Find("input, button").EachWithBreak(func(_ int, ctl *goquery.Selection) bool {
		if _, disabled := ctl.Attr("disabled"); !disabled {
			return true
		}
		label := actionLabel(ctl)
		if label == "" {
			return true
		}
		if sendInviteLabelRe.MatchString(label) {
			enabled := false
			status = &enabled
			matched = label
			return false
		}
		return true
	})
	return status, matched
}

func valueOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
