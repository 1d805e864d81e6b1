package main

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func participantCount(t *testing.T, ev *Event) int64 {
	t.Helper()
	return DB.Model(ev).Association("Participants").Count()
}

func TestRSVPIsIdempotent(t *testing.T) {
	mailer := newOKMailer()
	r := setupTestApp(t, mailer)
	cat := createCategory(t, "Music")
	ev := createEvent(t, "Concert", 2, cat)
	pat := createUser(t, "pat", GroupParticipant, true)
	path := "/rsvp_event/" + itoa(ev.ID) + "/"
	details := "/event_details/" + itoa(ev.ID) + "/"

	w := doRequest(r, http.MethodPost, path, nil, sessionCookie(t, pat))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, details, w.Header().Get("Location"))
	assert.Equal(t, []string{"You have successfully RSVPed to Concert!"}, flashTexts(t, w))

	w = doRequest(r, http.MethodPost, path, nil, sessionCookie(t, pat))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, details, w.Header().Get("Location"))
	assert.Equal(t, []string{"You have already RSVPed to this event."}, flashTexts(t, w))

	assert.Equal(t, int64(1), participantCount(t, ev))

	sent := mailer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "RSVP Confirmation", sent[0].Subject)
	assert.Equal(t, "Hi pat, you have RSVPed to the event: Concert", sent[0].Body)
}

func TestRSVPSurvivesMailFailure(t *testing.T) {
	mailer := &MockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	r := setupTestApp(t, mailer)
	cat := createCategory(t, "Music")
	ev := createEvent(t, "Concert", 2, cat)
	pat := createUser(t, "pat", GroupParticipant, true)

	w := doRequest(r, http.MethodPost, "/rsvp_event/"+itoa(ev.ID)+"/", nil, sessionCookie(t, pat))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, []string{"You have successfully RSVPed to Concert!"}, flashTexts(t, w))
	assert.Equal(t, int64(1), participantCount(t, ev))
}

func TestRSVPUnknownEvent(t *testing.T) {
	r := setupTestApp(t, nil)
	pat := createUser(t, "pat", GroupParticipant, true)

	w := doRequest(r, http.MethodPost, "/rsvp_event/404/", nil, sessionCookie(t, pat))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventDetailsShowsRSVPState(t *testing.T) {
	r := setupTestApp(t, nil)
	cat := createCategory(t, "Music")
	ev := createEvent(t, "Concert", 2, cat)
	pat := createUser(t, "pat", GroupParticipant, true)
	require.NoError(t, AddParticipant(DB, ev, pat))

	w := doRequest(r, http.MethodGet, "/event_details/"+itoa(ev.ID)+"/", nil, sessionCookie(t, pat))
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Event     Event `json:"event"`
		HasRSVPed bool  `json:"has_rsvped"`
	}
	decodeJSON(t, w, &page)
	assert.True(t, page.HasRSVPed)
	assert.Equal(t, "Concert", page.Event.Name)
	require.NotNil(t, page.Event.Category)
	assert.Equal(t, "Music", page.Event.Category.Name)

	w = doRequest(r, http.MethodGet, "/event_details/999/", nil, sessionCookie(t, pat))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateEventNotifiesParticipants(t *testing.T) {
	mailer := newOKMailer()
	r := setupTestApp(t, mailer)
	cat := createCategory(t, "Music")
	org := createUser(t, "org", GroupOrganizer, true)
	pat := createUser(t, "pat", GroupParticipant, true)

	form := url.Values{
		"name":            {"Launch party"},
		"date":            {"2025-07-01"},
		"location":        {"Rooftop"},
		"description":     {"Drinks"},
		"category_id":     {itoa(cat.ID)},
		"participant_ids": {itoa(pat.ID)},
	}
	w := doRequest(r, http.MethodPost, "/event_create/", form, sessionCookie(t, org))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/event_list/", w.Header().Get("Location"))
	assert.Equal(t, []string{"Event created successfully!"}, flashTexts(t, w))

	var ev Event
	require.NoError(t, DB.Where("name = ?", "Launch party").First(&ev).Error)
	assert.Equal(t, "2025-07-01", ev.Date.Format("2006-01-02"))
	assert.Equal(t, DefaultEventImage, ev.Image)
	assert.Equal(t, int64(1), participantCount(t, &ev))

	sent := mailer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"pat@example.com"}, sent[0].To)
}

func TestCreateEventValidation(t *testing.T) {
	r := setupTestApp(t, nil)
	org := createUser(t, "org", GroupOrganizer, true)

	w := doRequest(r, http.MethodPost, "/event_create/", url.Values{
		"name":        {"No category"},
		"date":        {"01/07/2025"},
		"category_id": {"77"},
	}, sessionCookie(t, org))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	texts := pageTexts(t, w)
	assert.Len(t, texts, 2)
	assert.Contains(t, texts, "Select a valid category.")

	var n int64
	require.NoError(t, DB.Model(&Event{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdateEventOnlyMailsNewParticipants(t *testing.T) {
	mailer := newOKMailer()
	r := setupTestApp(t, mailer)
	cat := createCategory(t, "Music")
	other := createCategory(t, "Talks")
	ev := createEvent(t, "Concert", 2, cat)
	org := createUser(t, "org", GroupOrganizer, true)
	pat := createUser(t, "pat", GroupParticipant, true)
	sam := createUser(t, "sam", GroupParticipant, true)
	require.NoError(t, AddParticipant(DB, ev, pat))

	w := doRequest(r, http.MethodPost, "/event_update/"+itoa(ev.ID)+"/", url.Values{
		"name":            {"Concert (moved)"},
		"date":            {"2025-06-20"},
		"category_id":     {itoa(other.ID)},
		"participant_ids": {itoa(pat.ID), itoa(sam.ID)},
	}, sessionCookie(t, org))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, []string{"Event updated successfully!"}, flashTexts(t, w))

	updated, err := getEvent(DB, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Concert (moved)", updated.Name)
	assert.Equal(t, other.ID, updated.CategoryID)
	assert.Len(t, updated.Participants, 2)

	sent := mailer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"sam@example.com"}, sent[0].To)
}

func TestDeleteEvent(t *testing.T) {
	r := setupTestApp(t, nil)
	cat := createCategory(t, "Music")
	ev := createEvent(t, "Concert", 2, cat)
	org := createUser(t, "org", GroupOrganizer, true)
	pat := createUser(t, "pat", GroupParticipant, true)
	require.NoError(t, AddParticipant(DB, ev, pat))

	w := doRequest(r, http.MethodGet, "/event_delete/"+itoa(ev.ID)+"/", nil, sessionCookie(t, org))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, []string{"Something went wrong"}, flashTexts(t, w))

	w = doRequest(r, http.MethodPost, "/event_delete/"+itoa(ev.ID)+"/", nil, sessionCookie(t, org))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, []string{"Event deleted successfully"}, flashTexts(t, w))

	var n int64
	require.NoError(t, DB.Model(&Event{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, DB.Table("event_participants").Count(&n).Error)
	assert.Zero(t, n)
}

func TestEventImageUploadAndReplace(t *testing.T) {
	r := setupTestApp(t, nil)
	cat := createCategory(t, "Music")
	org := createUser(t, "org", GroupOrganizer, true)

	post := func(path, name string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("name", name))
		require.NoError(t, mw.WriteField("date", "2025-07-01"))
		require.NoError(t, mw.WriteField("category_id", itoa(cat.ID)))
		fw, err := mw.CreateFormFile("image", "poster.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("not really a png"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, path, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.AddCookie(sessionCookie(t, org))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/event_create/", "Poster night")
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	var ev Event
	require.NoError(t, DB.Where("name = ?", "Poster night").First(&ev).Error)
	assert.NotEqual(t, DefaultEventImage, ev.Image)
	assert.Equal(t, "event_images", filepath.Dir(filepath.FromSlash(ev.Image)))
	first := filepath.Join(Cfg.MediaRoot, filepath.FromSlash(ev.Image))
	assert.FileExists(t, first)

	w = post("/event_update/"+itoa(ev.ID)+"/", "Poster night")
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	_, err := os.Stat(first)
	assert.True(t, os.IsNotExist(err), "replaced image should be removed")
}

func TestNoPermissionPage(t *testing.T) {
	r := setupTestApp(t, nil)

	w := doRequest(r, http.MethodGet, "/no_permission/", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
