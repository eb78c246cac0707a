package detect

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"

	"github.com/tidwall/gjson"
)

// mteamProfileURL is the member profile endpoint of the M-Team v2 API. The
// response carries the invite quota; no HTML scraping is involved.
const mteamProfileURL = "https://api.m-team.cc/api/member/profile"

// MTeamDetector reads invite counts from the M-Team JSON API using the
// per-site api key ("did").
type MTeamDetector struct {
	// ProfileURL is overridable for tests; it defaults to the production API.
	ProfileURL string
}

// NewMTeamDetector creates a detector.
func NewMTeamDetector() *MTeamDetector {
	return &MTeamDetector{ProfileURL: mteamProfileURL}
}

// CheckInvites calls the profile endpoint and extracts the invite quota.
func (d *MTeamDetector) CheckInvites(ctx context.Context, client *http.Client, site models.Site, userAgent string) AspectResult {
	profileURL := d.ProfileURL
	if profileURL == "" {
		profileURL = mteamProfileURL
	}
	if strings.TrimSpace(site.DID) == "" {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:    profileURL,
				Reason: "missing_auth",
				Detail: "api-key (did) not configured",
			},
		}
	}

	resp, attempts, err := httpclient.DoWithRetry(ctx, client, func() (*http.Request, error) {
		req, reqErr := http.NewRequest(http.MethodPost, profileURL, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("x-api-key", site.DID)
		if site.Authorization != "" {
			req.Header.Set("Authorization", site.Authorization)
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	}, engineRetryAttempts, engineRetryDelay)
	if err != nil {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:    profileURL,
				Reason: fmt.Sprintf("mteam_error:%s", ErrorTypeName(err)),
				Detail: AppendRetryDetail(FormatErrorDetail(err), attempts),
			},
		}
	}

	body, err := httpclient.ReadBody(resp, maxPageBytes)
	if err != nil {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:    profileURL,
				Reason: fmt.Sprintf("mteam_error:%s", ErrorTypeName(err)),
				Detail: AppendRetryDetail(FormatErrorDetail(err), attempts),
			},
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        profileURL,
				HTTPStatus: intPtr(resp.StatusCode),
				Reason:     "mteam_auth_failed",
				Detail:     AppendRetryDetail(truncateDetail(string(body)), attempts),
			},
		}
	}
	if resp.StatusCode != http.StatusOK {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        profileURL,
				HTTPStatus: intPtr(resp.StatusCode),
				Reason:     fmt.Sprintf("mteam_error:HTTP%d", resp.StatusCode),
				Detail:     AppendRetryDetail("", attempts),
			},
		}
	}

	if !gjson.ValidBytes(body) {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        profileURL,
				HTTPStatus: intPtr(resp.StatusCode),
				Reason:     "mteam_non_json",
				Detail:     truncateDetail(string(body)),
			},
		}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        profileURL,
				HTTPStatus: intPtr(resp.StatusCode),
				Reason:     "mteam_non_object",
				Detail:     truncateDetail(string(body)),
			},
		}
	}

	if code := root.Get("code"); code.Exists() {
		codeStr := code.String()
		if codeStr != "0" && codeStr != "" {
			message := root.Get("message").String()
			lower := strings.ToLower(message)
			if codeStr == "401" || codeStr == "403" ||
				strings.Contains(lower, "authentication") || strings.Contains(message, "鉴权") {
				detail := message
				if detail == "" {
					detail = "code=" + codeStr
				}
				return AspectResult{
					State: StateUnknown,
					Evidence: Evidence{
						URL:        profileURL,
						HTTPStatus: intPtr(resp.StatusCode),
						Reason:     "mteam_auth_failed",
						Detail:     truncateDetail(detail),
					},
				}
			}
			return AspectResult{
				State: StateUnknown,
				Evidence: Evidence{
					URL:        profileURL,
					HTTPStatus: intPtr(resp.StatusCode),
					Reason:     fmt.Sprintf("mteam_api_error:%s", codeStr),
					Detail:     truncateDetail(message),
				},
			}
		}
	}

	data := root.Get("data")

	// Fast path: the documented fields.
	perm, permOK := coerceInt(data.Get("invites"))
	temp, tempOK := coerceInt(data.Get("limitInvites"))
	if permOK || tempOK {
		if !permOK {
			perm = 0
		}
		if !tempOK {
			temp = 0
		}
		return inviteResult(profileURL, resp.StatusCode, perm, temp, "invites/limitInvites")
	}

	// Fallback: walk the payload for invite-like numeric leaves. The API has
	// shuffled field names between versions.
	permV, tempV, matched := walkInviteLeaves(data)
	if permV == nil {
		return AspectResult{
			State: StateUnknown,
			Evidence: Evidence{
				URL:        profileURL,
				HTTPStatus: intPtr(resp.StatusCode),
				Reason:     "mteam_invite_quota_not_found",
			},
		}
	}
	t := 0
	if tempV != nil {
		t = *tempV
	}
	return inviteResult(profileURL, resp.StatusCode, *permV, t, matched)
}

func inviteResult(profileURL string, status, perm, temp int, matched string) AspectResult {
	total := perm + temp
	state := StateClosed
	if total > 0 {
		state = StateOpen
	}
	return AspectResult{
		State:     state,
		Available: intPtr(total),
		Permanent: intPtr(perm),
		Temporary: intPtr(temp),
		Evidence: Evidence{
			URL:        profileURL,
			HTTPStatus: intPtr(status),
			Reason:     "mteam_profile",
			Matched:    matched,
		},
	}
}

// coerceInt converts a JSON leaf to an int when it is an integer number or a
// digit string. Booleans never count.
func coerceInt(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		if f == float64(int64(f)) {
			return int(f), true
		}
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

var (
	inviteLeafIncludeRe = regexp.MustCompile(`invite|invitation`)
	inviteLeafExcludeRe = regexp.MustCompile(`limit|max|min|token|code|hash|url`)
	inviteLeafKeyRe     = regexp.MustCompile(`count|quota|num|number|remain|left|available|rest`)
	inviteTempPathRe    = regexp.MustCompile(`temp|temporary`)
	inviteTotalPathRe   = regexp.MustCompile(`total|sum`)
)

var inviteLeafExactKeys = map[string]bool{
	"invite": true, "invites": true, "invitation": true, "invitations": true,
	"perm": true, "permanent": true, "temp": true, "temporary": true,
}

// walkInviteLeaves scans all numeric leaves under data for invite-related
// paths and buckets them into permanent/temporary/total candidates, keeping
// the max per bucket.
func walkInviteLeaves(data gjson.Result) (perm, temp *int, matched string) {
	var permPath, tempPath, totalPath string
	var permMax, tempMax, totalMax int
	havePerm, haveTemp, haveTotal := false, false, false

	var walk func(prefix string, v gjson.Result)
	walk = func(prefix string, v gjson.Result) {
		if v.IsObject() {
			v.ForEach(func(k, child gjson.Result) bool {
				p := k.String()
				if prefix != "" {
					p = prefix + "." + p
				}
				walk(p, child)
				return true
			})
			return
		}
		if v.IsArray() {
			i := 0
			v.ForEach(func(_, child gjson.Result) bool {
				walk(fmt.Sprintf("%s[%d]", prefix, i), child)
				i++
				return true
			})
			return
		}
		n, ok := coerceInt(v)
		if !ok || n < 0 || n > 1_000_000 {
			return
		}
		path := strings.ToLower(prefix)
		if !inviteLeafIncludeRe.MatchString(path) || inviteLeafExcludeRe.MatchString(path) {
			return
		}
		leaf := path
		if i := strings.LastIndex(leaf, "."); i >= 0 {
			leaf = leaf[i+1:]
		}
		if inviteLeafExcludeRe.MatchString(leaf) {
			return
		}
		if !inviteLeafKeyRe.MatchString(leaf) && !inviteLeafExactKeys[leaf] {
			return
		}
		switch {
		case inviteTempPathRe.MatchString(path):
			if !haveTemp || n > tempMax {
				tempMax, tempPath, haveTemp = n, prefix, true
			}
		case inviteTotalPathRe.MatchString(path):
			if !haveTotal || n > totalMax {
				totalMax, totalPath, haveTotal = n, prefix, true
			}
		default:
			if !havePerm || n > permMax {
				permMax, permPath, havePerm = n, prefix, true
			}
		}
	}
	walk("", data)

	var parts []string
	if havePerm {
		parts = append(parts, "perm="+permPath)
	}
	if haveTemp {
		parts = append(parts, "temp="+tempPath)
	}
	if haveTotal {
		parts = append(parts, "total="+totalPath)
	}
	matched = strings.Join(parts, "; ")

	if haveTemp {
		temp = intPtr(tempMax)
	}
	if havePerm {
		perm = intPtr(permMax)
		if temp == nil {
			temp = intPtr(0)
		}
		return perm, temp, matched
	}
	if haveTotal {
		if temp != nil && totalMax >= *temp {
			return intPtr(totalMax - *temp), temp, matched
		}
		if temp == nil {
			temp = intPtr(0)
		}
		return intPtr(totalMax), temp, matched
	}
	if haveTemp {
		return intPtr(0), temp, matched
	}
	return nil, nil, matched
}

