package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"pt-watch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func parseTestJSON(t *testing.T, raw string) gjson.Result {
	t.Helper()
	require.True(t, gjson.Valid(raw))
	return gjson.Parse(raw)
}

func mteamSite() models.Site {
	return models.Site{
		Name:     "M-Team",
		Domain:   "kp.m-team.cc",
		URL:      "https://kp.m-team.cc",
		DID:      "test-api-key",
		IsActive: true,
	}
}

func mteamServer(t *testing.T, status int, body string) (*MTeamDetector, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	d := NewMTeamDetector()
	d.ProfileURL = srv.URL + "/api/member/profile"
	return d, srv.Client()
}

func TestMTeam_MissingDID(t *testing.T) {
	d := NewMTeamDetector()
	site := mteamSite()
	site.DID = ""

	res := d.CheckInvites(context.Background(), http.DefaultClient, site, testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "missing_auth", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "did")
}

func TestMTeam_FastPath(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK,
		`{"code":"0","message":"SUCCESS","data":{"invites":3,"limitInvites":1}}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, "mteam_profile", res.Evidence.Reason)
	assert.Equal(t, "invites/limitInvites", res.Evidence.Matched)
	require.NotNil(t, res.Available)
	assert.Equal(t, 4, *res.Available)
	require.NotNil(t, res.Permanent)
	assert.Equal(t, 3, *res.Permanent)
	require.NotNil(t, res.Temporary)
	assert.Equal(t, 1, *res.Temporary)
}

func TestMTeam_ZeroInvites(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK,
		`{"code":"0","data":{"invites":0,"limitInvites":0}}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateClosed, res.State)
	require.NotNil(t, res.Available)
	assert.Equal(t, 0, *res.Available)
}

func TestMTeam_StringNumbers(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK,
		`{"code":"0","data":{"invites":"2","limitInvites":"0"}}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateOpen, res.State)
	require.NotNil(t, res.Available)
	assert.Equal(t, 2, *res.Available)
}

func TestMTeam_AuthFailedHTTP(t *testing.T) {
	d, client := mteamServer(t, http.StatusUnauthorized, `{"error":"unauthorized"}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_auth_failed", res.Evidence.Reason)
	require.NotNil(t, res.Evidence.HTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, *res.Evidence.HTTPStatus)
}

func TestMTeam_AuthFailedCode(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK, `{"code":"401","message":"请先完成鉴权"}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_auth_failed", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "鉴权")
}

func TestMTeam_APIError(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK, `{"code":"1001","message":"parameter error"}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_api_error:1001", res.Evidence.Reason)
	assert.Contains(t, res.Evidence.Detail, "parameter error")
}

func TestMTeam_NonJSON(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK, `<html>maintenance</html>`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_non_json", res.Evidence.Reason)
}

func TestMTeam_NonObject(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK, `[1,2,3]`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_non_object", res.Evidence.Reason)
}

func TestMTeam_GenericWalk(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK,
		`{"code":"0","data":{"memberCount":{"inviteRemain":"2","inviteTempRemain":1},"inviteLimit":99}}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateOpen, res.State)
	require.NotNil(t, res.Available)
	assert.Equal(t, 3, *res.Available)
	require.NotNil(t, res.Permanent)
	assert.Equal(t, 2, *res.Permanent)
	require.NotNil(t, res.Temporary)
	assert.Equal(t, 1, *res.Temporary)
	assert.Contains(t, res.Evidence.Matched, "perm=memberCount.inviteRemain")
	assert.Contains(t, res.Evidence.Matched, "temp=memberCount.inviteTempRemain")
}

func TestMTeam_QuotaNotFound(t *testing.T) {
	d, client := mteamServer(t, http.StatusOK,
		`{"code":"0","data":{"username":"tester","uploaded":"12345"}}`)

	res := d.CheckInvites(context.Background(), client, mteamSite(), testUA)

	assert.Equal(t, StateUnknown, res.State)
	assert.Equal(t, "mteam_invite_quota_not_found", res.Evidence.Reason)
}

func TestWalkInviteLeaves_TotalMinusTemp(t *testing.T) {
	data := parseTestJSON(t, `{"inviteTotalCount":5,"inviteTempCount":2}`)

	perm, temp, matched := walkInviteLeaves(data)
	require.NotNil(t, perm)
	require.NotNil(t, temp)
	assert.Equal(t, 3, *perm)
	assert.Equal(t, 2, *temp)
	assert.Contains(t, matched, "total=inviteTotalCount")
}

func TestWalkInviteLeaves_ExcludesLimitFields(t *testing.T) {
	data := parseTestJSON(t, `{"inviteLimit":10,"maxInviteCount":20}`)

	perm, _, _ := walkInviteLeaves(data)
	assert.Nil(t, perm)
}
