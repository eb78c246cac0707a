package detect

import "regexp"

// Pattern lists mirror the wording NexusPHP skins use, English and Chinese.
// The matched pattern source is recorded in Evidence.Matched.

var registrationClosedPatterns = compileAll(
	`registration\s+closed`,
	`signups?\s+(are\s+)?closed`,
	`signup\s+closed`,
	`closed\s+registration`,
	`invite\s+only`,
	`invitation\s+only`,
	`注册(已经)?关闭`,
	`暂停注册`,
	`停止注册`,
	`当前不开放注册`,
	`自由注册.{0,10}关闭`,
	`(?:自由|开放)注册.{0,10}打烊`,
	`(?:只|仅)(?:允许|接受).{0,10}邀请注册`,
)

var inviteCountPatterns = compileAll(
	`you\s+have\s+(\d{1,4})\s+invites?`,
	`available\s+invites?\s*[:：]\s*(\d{1,4})`,
	`invites?\s*available\s*[:：]\s*(\d{1,4})`,
	`invites?\s*(?:left|remaining)\s*[:：]?\s*(\d{1,4})`,
	`可用(?:邀请|邀請)\s*[:：]?\s*(\d{1,4})`,
	`(?:剩余|剩餘)(?:邀请|邀請)\s*[:：]?\s*(\d{1,4})`,
	`(?:你|您)\s*(?:还|還)?\s*有\s*(\d{1,4})\s*(?:个)?\s*(?:邀请|邀請)`,
)

var inviteDisabledPatterns = compileAll(
	`invites?\s+(are\s+)?disabled`,
	`inviting\s+is\s+disabled`,
	`you\s+are\s+not\s+allowed\s+to\s+invite`,
	`邀请功能(已经)?关闭`,
	`禁止邀请`,
	`无邀请权限`,
)

var invitePermissionDeniedPatterns = compileAll(
	`(?:或以上|及以上).{0,80}(?:才可(?:以)?|才能).{0,20}(?:发送|發送).{0,10}(?:邀请|邀請)`,
	`(?:你|您).{0,30}(?:没有|無).{0,30}(?:邀请|邀請).{0,20}(?:权限|權限)`,
	`(?:not\s+allowed\s+to\s+invite|invites?\s+are\s+disabled)`,
)

// homeInviteQuotaRe matches the top-nav quota "邀请 [发送]: 12(3)".
var homeInviteQuotaRe = regexp.MustCompile(`(?i)(?:邀请|邀請)\s*\[\s*(?:发送|發送)\s*\]\s*[:：]?\s*(\d{1,4})\s*(?:\(\s*(\d{1,4})\s*\))?`)

// userDetailsIDRe pulls the logged-in user's id from any profile link.
var userDetailsIDRe = regexp.MustCompile(`(?i)userdetails\.php\?id=(\d{1,10})`)

// sendInviteLabelRe recognizes a disabled "send invite" control.
var sendInviteLabelRe = regexp.MustCompile(`(?i)(?:发送|發送).{0,5}(?:邀请|邀請)|send\s+invite`)

// htmlTitleRe extracts the page title from raw HTML.
var htmlTitleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// firstMatch returns the source of the first pattern matching text.
func firstMatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if re.MatchString(text) {
			return rawPattern(re), true
		}
	}
	return "", false
}

// rawPattern strips the case-insensitivity prefix added by compileAll so
// Evidence.Matched shows the plain pattern.
func rawPattern(re *regexp.Regexp) string {
	s := re.String()
	if len(s) > 4 && s[:4] == `(?i)` {
		return s[4:]
	}
	return s
}
