package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"pt-watch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUA = "Mozilla/5.0 (test)"

func nexusSite(baseURL string) models.Site {
	return models.Site{
		Name:     "Test Tracker",
		Domain:   "tracker.example",
		URL:      baseURL,
		IsActive: true,
	}
}

// nexusServer serves per-path HTML bodies; missing paths return 404.
func nexusServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckRegistration_Open(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/signup.php": `<html><body><form action="takesignup.php" method="post">
			<input type="text" name="username"/><input type="submit" value="注册"/>
		</form></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, "signup_form_detected", res.Evidence.Reason)
	require.NotNil(t, res.Evidence.HTTPStatus)
	assert.Equal(t, http.StatusOK, *res.Evidence.HTTPStatus)
}

func TestCheckRegistration_ClosedByPattern(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/signup.php": `<html><body><h1>本站当前不开放注册，请耐心等待。</h1></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "registration_closed", res.Evidence.Reason)
	assert.NotEmpty(t, res.Evidence.Matched)
}

func TestCheckRegistration_InviteRequired(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/signup.php": `<html><body><form action="takesignup.php">
			<input type="text" name="invitecode"/><input type="submit"/>
		</form></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invite_required", res.Evidence.Reason)
}

func TestCheckRegistration_FormMissing(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/signup.php": `<html><body><p>Nothing to see here.</p></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "signup_form_missing", res.Evidence.Reason)
}

func TestCheckRegistration_PageNotFound(t *testing.T) {
	srv := nexusServer(t, map[string]string{})

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "signup_page_not_found", res.Evidence.Reason)
	require.NotNil(t, res.Evidence.HTTPStatus)
	assert.Equal(t, http.StatusNotFound, *res.Evidence.HTTPStatus)
}

func TestCheckRegistration_CustomPath(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/apply.php": `<html><body><form><input type="text" name="email"/></form></body></html>`,
	})

	site := nexusSite(srv.URL)
	site.RegistrationPath = "apply.php"

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), site, testUA)

	assert.Equal(t, StateOpen, res.State)
	assert.Contains(t, res.Evidence.URL, "/apply.php")
}

func TestCheckRegistration_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	d := NewNexusPHPDetector()
	res := d.CheckRegistration(context.Background(), srv.Client(), nexusSite(srv.URL), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "registration_error:HTTP502", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "retries=3")
}

const homeWithQuota = `<html><body>
	<a href="userdetails.php?id=4321">profile</a>
	<span>邀请 [发送]: 2(1)</span>
	<a href="invite.php?id=4321">邀请</a>
</body></html>`

const invitePageOpen = `<html><body>
	<form action="?id=4321&amp;type=new" method="post">
		<input type="submit" value="发送邀请"/>
	</form>
</body></html>`

func TestCheckInvites_MissingCookie(t *testing.T) {
	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), http.DefaultClient, nexusSite("http://tracker.example"), testUA, "")

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "missing_cookie", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.URL, "invite.php")
}

func TestCheckInvites_NotLoggedIn(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": `<html><body><form action="takelogin.php">
			<input type="text" name="username"/><input type="password" name="password"/>
			<input type="submit" value="登录"/>
		</form></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "not_logged_in", res.Evidence.Reason)
}

func TestCheckInvites_HomeQuotaZero(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": `<html><body>
			<a href="userdetails.php?id=99">me</a>
			<span>邀请 [发送]: 0(0)</span>
		</body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invite_quota_home_zero", res.Evidence.Reason)
	require.NotNil(t, res.Available)
	assert.Equal(t, 0, *res.Available)
	assert.Contains(t, res.Evidence.URL, "invite.php?id=99")
}

func TestCheckInvites_OpenWithHomeQuota(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/":           homeWithQuota,
		"/invite.php": invitePageOpen,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, "invite_quota_home_header", res.Evidence.Reason)
	require.NotNil(t, res.Available)
	assert.Equal(t, 3, *res.Available)
	require.NotNil(t, res.Permanent)
	assert.Equal(t, 2, *res.Permanent)
	require.NotNil(t, res.Temporary)
	assert.Equal(t, 1, *res.Temporary)
	assert.Equal(t, "发送邀请", res.Evidence.Matched)
}

func TestCheckInvites_Disabled(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/":           homeWithQuota,
		"/invite.php": `<html><body><p>本站邀请功能已经关闭。</p></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invites_disabled", res.Evidence.Reason)
	require.NotNil(t, res.Available)
	assert.Equal(t, 0, *res.Available)
	assert.Contains(t, res.Evidence.Detail, "quota_total=3")
}

func TestCheckInvites_PermissionDeniedByDisabledControl(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": homeWithQuota,
		"/invite.php": `<html><body>
			<form action="?id=4321&amp;type=new" method="post">
				<input type="submit" value="发送邀请" disabled/>
			</form>
		</body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invite_permission_denied", res.Evidence.Reason)
	assert.Equal(t, "发送邀请", res.Evidence.Matched)
	require.NotNil(t, res.Available)
	assert.Equal(t, 0, *res.Available)
}

func TestCheckInvites_PermissionDeniedByText(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": `<html><body><a href="invite.php">邀请系统</a></body></html>`,
		"/invite.php": `<html><body>
			<p>魔仙大法师或以上等级才可以发送邀请。</p>
			<p>You have 5 invites</p>
		</body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invite_permission_denied", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "quota_total=5")
}

func TestCheckInvites_CountParsedFromInvitePage(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": `<html><body><a href="invite.php">邀请系统</a></body></html>`,
		"/invite.php": `<html><body>
			<p>You have 5 invites</p>
			<form action="takeinvite.php" method="post">
				<input type="submit" value="send invite"/>
			</form>
		</body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, "invite_count_parsed", res.Evidence.Reason)
	require.NotNil(t, res.Available)
	assert.Equal(t, 5, *res.Available)
}

func TestCheckInvites_CountNotFound(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/":           `<html><body><a href="invite.php">邀请系统</a></body></html>`,
		"/invite.php": `<html><body><p>欢迎，可以邀请其他人加入本站。</p></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "invite_count_not_found", res.Evidence.Reason)
}

func TestCheckInvites_ActionNotFound(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/":           `<html><body><span>邀请 [发送]: 4(0)</span><a href="invite.php">邀请</a></body></html>`,
		"/invite.php": `<html><body><table><tr><td>pending invites</td></tr></table></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, "invite_action_not_found", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "quota_total=4")
}

func TestCheckInvites_InvitePageNotFound(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/": `<html><body><span>邀请 [发送]: 2(0)</span></body></html>`,
	})

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), nexusSite(srv.URL), testUA, "uid=1; pass=x")

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "invite_page_not_found", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "quota_total=2")
}

func TestCheckInvites_CustomInvitePath(t *testing.T) {
	srv := nexusServer(t, map[string]string{
		"/":             `<html><body><span>邀请 [发送]: 1(0)</span></body></html>`,
		"/myinvite.php": invitePageOpen,
	})

	site := nexusSite(srv.URL)
	site.InvitePath = "myinvite.php"

	d := NewNexusPHPDetector()
	res := d.CheckInvites(context.Background(), srv.Client(), site, testUA, "uid=1; pass=x")

	assert.Equal(t, StateOpen, res.State)
	assert.Contains(t, res.Evidence.URL, "/myinvite.php")
}

func TestAdapterRegistry(t *testing.T) {
	assert.Nil(t, adapterFor("unknown.example"))

	RegisterAdapter(SiteAdapter{DomainSuffix: "quirky.example"})
	t.Cleanup(func() { adapters = nil })

	assert.NotNil(t, adapterFor("quirky.example"))
	assert.NotNil(t, adapterFor("pt.quirky.example"))
	assert.Nil(t, adapterFor("notquirky.example"))
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://pt.example/signup.php", JoinURL("https://pt.example", "signup.php"))
	assert.Equal(t, "https://pt.example/signup.php", JoinURL("https://pt.example/", "/signup.php"))
	assert.Equal(t, "https://pt.example/sub/invite.php", JoinURL("https://pt.example/sub", "invite.php"))
}
