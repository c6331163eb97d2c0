package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeshare/ledger-engine/api"
	"github.com/timeshare/ledger-engine/gate"
	"github.com/timeshare/ledger-engine/ledger"
	"github.com/timeshare/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.StandardBonusPolicy())
	g := gate.NewGate(mem)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	h := api.NewHandler(engine, g, log)
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, mem
}

func seedProfile(t *testing.T, mem *store.Memory, id, email string, hours int, admin bool) {
	t.Helper()
	err := mem.CreateProfile(context.Background(), ledger.Profile{
		ID:      ledger.ProfileID(id),
		Name:    id,
		Email:   email,
		Balance: ledger.NewHoursFromInt(hours),
		IsAdmin: admin,
		Skills: []ledger.Skill{
			{ID: "skill-piano", Name: "Piano Lessons", Category: "Music"},
		},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// ACCESS ENDPOINTS
// =============================================================================

func TestCheckAccess_UnknownContactDenied(t *testing.T) {
	// GIVEN an empty network
	srv, _ := newTestServer(t)

	// WHEN checking an unknown contact
	resp := doJSON(t, srv, http.MethodPost, "/api/access/check",
		api.CheckAccessRequest{Contact: "stranger@example.com"})

	// THEN access is denied
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[api.CheckAccessResponse](t, resp)
	assert.Equal(t, "denied", body.Status)
	assert.Nil(t, body.Profile)
}

func TestCheckAccess_ExistingMember(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)

	resp := doJSON(t, srv, http.MethodPost, "/api/access/check",
		api.CheckAccessRequest{Contact: "Alice@Example.COM"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[api.CheckAccessResponse](t, resp)
	assert.Equal(t, "existing", body.Status)
	require.NotNil(t, body.Profile)
	assert.Equal(t, "alice", body.Profile.ID)
}

func TestSignUp_InvitedContactGetsGrant(t *testing.T) {
	// GIVEN a member who has invited a friend
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	require.NoError(t, mem.CreateInvitation(context.Background(), ledger.Invitation{
		ID:        "inv-1",
		Contact:   "bob@example.com",
		InvitedBy: "alice",
		Status:    ledger.InvitationPending,
		CreatedAt: time.Now(),
	}))

	// WHEN the friend signs up
	resp := doJSON(t, srv, http.MethodPost, "/api/access/signup",
		api.SignUpRequest{Contact: "bob@example.com", Name: "Bob"})

	// THEN a profile is created with the initial grant
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[api.ProfileDTO](t, resp)
	assert.Equal(t, "Bob", body.Name)
	assert.Equal(t, "40", body.BalanceHours)
	assert.NotEmpty(t, body.Avatar)
}

func TestSignUp_WithoutInvitationForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/access/signup",
		api.SignUpRequest{Contact: "stranger@example.com", Name: "Mallory"})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// PROFILE ENDPOINTS
// =============================================================================

func TestGetProfile_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, http.MethodGet, "/api/profiles/nobody", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateProfile_CannotTouchBalance(t *testing.T) {
	// GIVEN a member with 40 hours
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)

	// WHEN editing the profile (the request body has no balance field at all;
	// a raw JSON balance_hours would simply be ignored by the DTO)
	newBio := "I teach piano."
	resp := doJSON(t, srv, http.MethodPut, "/api/profiles/alice",
		api.UpdateProfileRequest{Bio: &newBio})

	// THEN the edit lands and the balance is untouched
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[api.ProfileDTO](t, resp)
	assert.Equal(t, "I teach piano.", body.Bio)
	assert.Equal(t, "40", body.BalanceHours)
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

func createSession(t *testing.T, srv *httptest.Server, requester, provider, duration string) api.SessionDTO {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/sessions", api.CreateSessionRequest{
		RequesterID:   requester,
		ProviderID:    provider,
		SkillID:       "skill-piano",
		DurationHours: duration,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[api.SessionDTO](t, resp)
}

func TestCreateSession_DebitsRequester(t *testing.T) {
	// GIVEN two members
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)

	// WHEN alice books 2 hours of bob's time
	session := createSession(t, srv, "alice", "bob", "2")

	// THEN the session is pending and alice's balance dropped
	assert.Equal(t, "PENDING", session.Status)
	assert.Equal(t, "Piano Lessons", session.SkillName)

	resp := doJSON(t, srv, http.MethodGet, "/api/profiles/alice", nil)
	profile := decodeBody[api.ProfileDTO](t, resp)
	assert.Equal(t, "38", profile.BalanceHours)
}

func TestCreateSession_InsufficientBalance(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 1, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)

	resp := doJSON(t, srv, http.MethodPost, "/api/sessions", api.CreateSessionRequest{
		RequesterID:   "alice",
		ProviderID:    "bob",
		SkillID:       "skill-piano",
		DurationHours: "5",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionLifecycle_CompleteWithRating(t *testing.T) {
	// GIVEN a pending 2h session
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)
	session := createSession(t, srv, "alice", "bob", "2")

	// WHEN the provider accepts
	resp := doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "bob", Status: "accepted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeBody[api.SessionDTO](t, resp)
	assert.Equal(t, "ACCEPTED", accepted.Status)

	// AND the requester completes with a 5-star rating
	rating := "5"
	resp = doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "alice", Status: "completed", Rating: &rating, Review: "Wonderful"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	completed := decodeBody[api.SessionDTO](t, resp)
	assert.Equal(t, "COMPLETED", completed.Status)

	// THEN the provider earned duration plus the top-tier bonus
	resp = doJSON(t, srv, http.MethodGet, "/api/profiles/bob", nil)
	provider := decodeBody[api.ProfileDTO](t, resp)
	assert.Equal(t, "43.5", provider.BalanceHours)
	assert.Equal(t, 1, provider.ReviewCount)
}

func TestUpdateSessionStatus_ProviderCannotComplete(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)
	session := createSession(t, srv, "alice", "bob", "2")

	resp := doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "bob", Status: "accepted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The provider certifying their own work is a conflict
	rating := "5"
	resp = doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "bob", Status: "completed", Rating: &rating})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateSessionStatus_CompleteWithoutRatingRejected(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)
	session := createSession(t, srv, "alice", "bob", "2")

	resp := doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "bob", Status: "accepted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/sessions/"+session.ID+"/status",
		api.UpdateSessionStatusRequest{ActorID: "alice", Status: "completed"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListSessions_FilterByParticipant(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "bob", "bob@example.com", 40, false)
	seedProfile(t, mem, "carol", "carol@example.com", 40, false)
	createSession(t, srv, "alice", "bob", "1")
	createSession(t, srv, "carol", "bob", "1")

	resp := doJSON(t, srv, http.MethodGet, "/api/sessions?participant=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decodeBody[[]api.SessionDTO](t, resp)
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice", sessions[0].RequesterID)
}

// =============================================================================
// INVITATION ENDPOINTS
// =============================================================================

func TestInvitationFlow_InviteThenCancel(t *testing.T) {
	// GIVEN a member
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)

	// WHEN inviting a contact
	resp := doJSON(t, srv, http.MethodPost, "/api/invitations",
		api.CreateInvitationRequest{Contact: "bob@example.com", InvitedBy: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	inv := decodeBody[api.InvitationDTO](t, resp)
	assert.Equal(t, "pending", inv.Status)

	// THEN the inviter can cancel it
	resp = doJSON(t, srv, http.MethodPost, "/api/invitations/"+inv.ID+"/cancel",
		api.CancelInvitationRequest{RequestedBy: "alice"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// AND the contact is now denied entry
	resp = doJSON(t, srv, http.MethodPost, "/api/access/check",
		api.CheckAccessRequest{Contact: "bob@example.com"})
	body := decodeBody[api.CheckAccessResponse](t, resp)
	assert.Equal(t, "denied", body.Status)
}

func TestCancelInvitation_StrangerForbidden(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "eve", "eve@example.com", 40, false)
	require.NoError(t, mem.CreateInvitation(context.Background(), ledger.Invitation{
		ID: "inv-1", Contact: "bob@example.com", InvitedBy: "alice",
		Status: ledger.InvitationPending, CreatedAt: time.Now(),
	}))

	resp := doJSON(t, srv, http.MethodPost, "/api/invitations/inv-1/cancel",
		api.CancelInvitationRequest{RequestedBy: "eve"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelInvitation_AdminAllowed(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)
	seedProfile(t, mem, "root", "admin@example.com", 40, true)
	require.NoError(t, mem.CreateInvitation(context.Background(), ledger.Invitation{
		ID: "inv-1", Contact: "bob@example.com", InvitedBy: "alice",
		Status: ledger.InvitationPending, CreatedAt: time.Now(),
	}))

	resp := doJSON(t, srv, http.MethodPost, "/api/invitations/inv-1/cancel",
		api.CancelInvitationRequest{RequestedBy: "root"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestInvite_DuplicateReturnsExisting(t *testing.T) {
	srv, mem := newTestServer(t)
	seedProfile(t, mem, "alice", "alice@example.com", 40, false)

	resp := doJSON(t, srv, http.MethodPost, "/api/invitations",
		api.CreateInvitationRequest{Contact: "bob@example.com", InvitedBy: "alice"})
	first := decodeBody[api.InvitationDTO](t, resp)

	resp = doJSON(t, srv, http.MethodPost, "/api/invitations",
		api.CreateInvitationRequest{Contact: "Bob@Example.com", InvitedBy: "alice"})
	second := decodeBody[api.InvitationDTO](t, resp)

	assert.Equal(t, first.ID, second.ID)
}
