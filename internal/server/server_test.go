package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/switchboard/internal/reflock"
	"github.com/florianilch/switchboard/internal/store"
	"github.com/florianilch/switchboard/internal/ticket"
)

// stubService records calls and plays back canned results.
type stubService struct {
	accounts  []store.Account
	current   string
	switchErr error
	quotaErr  error
	fixErr    error

	switchedTo string
	deleted    string
	imported   []byte
}

var _ Service = (*stubService)(nil)

func (s *stubService) Accounts() []store.Account { return s.accounts }
func (s *stubService) CurrentID() string         { return s.current }

func (s *stubService) ImportCurrent(name, notes string) (store.Account, error) {
	return store.Account{ID: "new-id", Name: name, Notes: notes}, nil
}

func (s *stubService) Switch(_ context.Context, id string) error {
	s.switchedTo = id
	return s.switchErr
}

func (s *stubService) Delete(id string) error {
	s.deleted = id
	return nil
}

func (s *stubService) Update(id string, name, notes *string) (store.Account, error) {
	account := store.Account{ID: id, Name: "old"}
	if name != nil {
		account.Name = *name
	}
	if notes != nil {
		account.Notes = *notes
	}
	return account, nil
}

func (s *stubService) Export() ([]byte, error) { return []byte(`{"accounts":{}}`), nil }

func (s *stubService) Import(data []byte) error {
	s.imported = data
	return nil
}

func (s *stubService) Sync(string) (bool, error) { return true, nil }

func (s *stubService) Quota(context.Context, string) (store.QuotaSnapshot, error) {
	return store.QuotaSnapshot{PlanType: "plus", FiveHourLeft: 75}, s.quotaErr
}

func (s *stubService) CheckConflict() (string, bool) { return "work", true }
func (s *stubService) Settings() store.Settings      { return store.DefaultSettings() }
func (s *stubService) UpdateSettings(store.Settings) error {
	return nil
}
func (s *stubService) RequestFixTicket() string { return "ticket-1" }
func (s *stubService) FixQuarantine(_ context.Context, v string) error {
	if v != "ticket-1" {
		return ticket.ErrMismatch
	}
	return s.fixErr
}

func (s *stubService) Subscribe() (<-chan string, func()) {
	ch := make(chan string)
	return ch, func() {}
}

func newTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	srv, err := New(svc)
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestListAccounts(t *testing.T) {
	svc := &stubService{accounts: []store.Account{{ID: "a1", Name: "work"}}}
	srv := newTestServer(t, svc)

	rec := doRequest(t, srv, http.MethodGet, "/v1/accounts", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []store.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "work", accounts[0].Name)
}

func TestCurrentAccount(t *testing.T) {
	srv := newTestServer(t, &stubService{current: "a1"})

	rec := doRequest(t, srv, http.MethodGet, "/v1/accounts/current", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"a1"}`, rec.Body.String())
}

func TestImportCurrentValidation(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/accounts", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/accounts", map[string]string{"name": "work"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSwitchRoutesToService(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := doRequest(t, srv, http.MethodPost, "/v1/accounts/a2/switch", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "a2", svc.switchedTo)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"busy", reflock.ErrBusy, http.StatusConflict},
		{"identity mismatch", store.ErrIdentityMismatch, http.StatusConflict},
		{"validation", &store.ValidationError{AccountNames: []string{"x"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubService{switchErr: tt.err})
			rec := doRequest(t, srv, http.MethodPost, "/v1/accounts/a1/switch", nil)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestQuota(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/accounts/a1/quota", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var quota store.QuotaSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quota))
	assert.Equal(t, "plus", quota.PlanType)
	assert.Equal(t, float64(75), quota.FiveHourLeft)
}

func TestConflict(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/conflict", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conflict":true,"name":"work"}`, rec.Body.String())
}

func TestQuarantineTicketFlow(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/quarantine/ticket", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket":"ticket-1"}`, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/v1/quarantine/fix", map[string]string{"ticket": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/quarantine/fix", map[string]string{"ticket": "ticket-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestImport(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := doRequest(t, srv, http.MethodPost, "/v1/import", map[string]any{"accounts": map[string]any{}})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, svc.imported)
}
