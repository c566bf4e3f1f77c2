package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/shared"
)

type memoryDirectory struct {
	companies map[int64]Company
	members   map[int64]Member
	err       error
}

func (d memoryDirectory) GetCompany(ctx context.Context, id int64) (Company, error) {
	c, ok := d.companies[id]
	if !ok {
		return Company{}, shared.ErrNotFound
	}
	return c, nil
}

func (d memoryDirectory) GetMember(ctx context.Context, userID int64) (Member, error) {
	if d.err != nil {
		return Member{}, d.err
	}
	m, ok := d.members[userID]
	if !ok {
		return Member{}, shared.ErrNotFound
	}
	return m, nil
}

func serve(t *testing.T, dir Directory, header string) (*httptest.ResponseRecorder, shared.Actor) {
	t.Helper()
	var seen shared.Actor
	mw := Middleware{Directory: dir}
	handler := mw.RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := shared.ActorFromContext(r.Context())
		require.NoError(t, err)
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/stock", nil)
	if header != "" {
		req.Header.Set(ActorHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireActorAttachesMembership(t *testing.T) {
	dir := memoryDirectory{members: map[int64]Member{
		5: {UserID: 5, CompanyID: 2, Role: shared.RoleSiteManager, Active: true},
	}}
	rec, actor := serve(t, dir, "5")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, shared.Actor{UserID: 5, CompanyID: 2, Role: shared.RoleSiteManager}, actor)
}

func TestRequireActorRejections(t *testing.T) {
	dir := memoryDirectory{members: map[int64]Member{
		6: {UserID: 6, CompanyID: 2, Role: shared.RoleStaff, Active: false},
		7: {UserID: 7, CompanyID: 2, Role: "owner", Active: true},
	}}
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "abc", http.StatusUnauthorized},
		{"unknown user", "99", http.StatusUnauthorized},
		{"inactive", "6", http.StatusForbidden},
		{"bad role", "7", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := serve(t, dir, tc.header)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRequireActorBackendFailure(t *testing.T) {
	dir := memoryDirectory{err: shared.Backend(errors.New("connection refused"))}
	rec, _ := serve(t, dir, "5")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApprovedSupplier(t *testing.T) {
	require.True(t, Company{Kind: KindSupplier, Status: StatusApproved}.ApprovedSupplier())
	require.False(t, Company{Kind: KindSupplier, Status: StatusPending}.ApprovedSupplier())
	require.False(t, Company{Kind: KindBuyer, Status: StatusApproved}.ApprovedSupplier())
}
