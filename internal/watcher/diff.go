package watcher

import (
	"fmt"
	"strings"

	"pt-watch/internal/detect"
	"pt-watch/internal/models"
)

// notifyTitle heads every change notification.
const notifyTitle = "PT Invite Watcher: 状态变化"

// DiffChanges compares a stored state with a fresh result and returns the
// human-readable change lines. A first check (prev nil) never notifies, and
// unknown states never count as changes.
func DiffChanges(prev *models.SiteState, result SiteCheckResult) []string {
	if prev == nil {
		return nil
	}

	var changes []string

	regCur := result.Registration.State
	regPrev := prev.RegistrationState
	if regCur == detect.StateOpen && regPrev != detect.StateOpen {
		changes = append(changes, "开放注册：open")
	} else if regCur == detect.StateClosed && regPrev == detect.StateOpen {
		changes = append(changes, "开放注册：closed")
	}

	if cur := result.Invites.Available; cur != nil {
		prevCount := prev.InvitesAvailable
		if *cur > 0 && (prevCount == nil || *prevCount <= 0) {
			from := 0
			if prevCount != nil {
				from = *prevCount
			}
			changes = append(changes, fmt.Sprintf("可用邀请数：%d -> %d", from, *cur))
		} else if *cur <= 0 && prevCount != nil && *prevCount > 0 {
			changes = append(changes, fmt.Sprintf("可用邀请数：%d -> %d", *prevCount, *cur))
		}
	}

	return changes
}

// BuildNotification renders the change message for one site.
func BuildNotification(result SiteCheckResult, changes []string) (string, string) {
	lines := []string{
		fmt.Sprintf("站点：%s (%s)", result.Site.Name, result.Site.Domain),
		fmt.Sprintf("URL：%s", result.Site.URL),
	}
	lines = append(lines, changes...)
	lines = append(lines,
		fmt.Sprintf("注册：%s (%s)", result.Registration.State, result.Registration.Evidence.Reason),
		fmt.Sprintf("邀请：%s %s", result.Invites.State, inviteDisplay(result.Invites)),
	)
	return notifyTitle, strings.Join(lines, "\n")
}

// inviteDisplay renders the invite count as perm(temp) when the split is
// known, the plain total otherwise, or "-" when no count was parsed.
func inviteDisplay(inv detect.AspectResult) string {
	if inv.Permanent != nil {
		temp := 0
		if inv.Temporary != nil {
			temp = *inv.Temporary
		}
		return fmt.Sprintf("%d(%d)", *inv.Permanent, temp)
	}
	if inv.Available != nil {
		return fmt.Sprintf("%d", *inv.Available)
	}
	return "-"
}
