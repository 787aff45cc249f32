package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hivemsg/feeds-api/internal/auth"
	"github.com/hivemsg/feeds-api/internal/feed"
)

// stubReader returns a canned page and records the arguments it saw.
type stubReader struct {
	page feed.UserEntriesPage
	err  error

	gotUserID uuid.UUID
	gotCursor *uuid.UUID
}

func (s *stubReader) GetUserEntries(_ context.Context, userID uuid.UUID, cursor *uuid.UUID) (feed.UserEntriesPage, error) {
	s.gotUserID = userID
	s.gotCursor = cursor
	return s.page, s.err
}

func serve(t *testing.T, reader FeedReader, target string) *httptest.ResponseRecorder {
	t.Helper()
	srv := &Server{Feeds: reader}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	req := httptest.NewRequest("GET", target, nil)
	req.Header.Set("X-Debug-Sub", "test-user")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetUserEntriesPage(t *testing.T) {
	userID := uuid.Must(uuid.NewV7())
	e1 := feed.NewEntry(userID, uuid.Must(uuid.NewV7()), []uuid.UUID{uuid.Must(uuid.NewV7())})
	e2 := feed.NewEntry(userID, uuid.Must(uuid.NewV7()), []uuid.UUID{uuid.Must(uuid.NewV7())})
	next := uuid.Must(uuid.NewV7())

	reader := &stubReader{page: feed.UserEntriesPage{
		Entries:    []feed.Entry{e2, e1},
		NextCursor: &next,
	}}

	rec := serve(t, reader, "/v1/users/"+userID.String()+"/entries")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, userID, reader.gotUserID)
	require.Nil(t, reader.gotCursor)

	var resp entriesResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, []string{e2.MessageID.String(), e1.MessageID.String()}, resp.MessageIDs)
	require.NotNil(t, resp.CursorEntryID)
	require.Equal(t, next.String(), *resp.CursorEntryID)
}

func TestGetUserEntriesPassesCursor(t *testing.T) {
	userID := uuid.Must(uuid.NewV7())
	cursor := uuid.Must(uuid.NewV7())
	reader := &stubReader{}

	rec := serve(t, reader, "/v1/users/"+userID.String()+"/entries?cursor_entry_id="+cursor.String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, reader.gotCursor)
	require.Equal(t, cursor, *reader.gotCursor)

	var resp entriesResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Empty(t, resp.MessageIDs)
	require.Nil(t, resp.CursorEntryID)
}

func TestGetUserEntriesBadIDs(t *testing.T) {
	reader := &stubReader{}

	rec := serve(t, reader, "/v1/users/not-a-uuid/entries")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	userID := uuid.Must(uuid.NewV7())
	rec = serve(t, reader, "/v1/users/"+userID.String()+"/entries?cursor_entry_id=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUserEntriesServiceError(t *testing.T) {
	reader := &stubReader{err: errors.New("boom")}

	userID := uuid.Must(uuid.NewV7())
	rec := serve(t, reader, "/v1/users/"+userID.String()+"/entries")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetUserEntriesRequiresAuth(t *testing.T) {
	srv := &Server{Feeds: &stubReader{}}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret"})

	req := httptest.NewRequest("GET", "/v1/users/"+uuid.Must(uuid.NewV7()).String()+"/entries", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthWithoutDB(t *testing.T) {
	srv := &Server{Feeds: &stubReader{}}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret"})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
