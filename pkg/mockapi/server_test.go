package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/feedback"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "mock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	srv, err := NewServer(store)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestServer_AccountsClientRoundTrip(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()
	client, err := commands.NewAccountsClient(ts.URL, ts.Client())
	require.NoError(t, err)

	require.NoError(t, client.SetOrg2FA(ctx, "tok", "org-1", true))
	enabled, ok, err := store.Org2FA(ctx, "org-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, enabled)

	sa, err := client.CreateServiceAccount(ctx, "tok", commands.ServiceAccountRequest{Name: "ci", Description: "pipeline"})
	require.NoError(t, err)
	require.NotEmpty(t, sa.ClientID)
	require.NotEmpty(t, sa.Secret)

	_, err = client.CreateServiceAccount(ctx, "tok", commands.ServiceAccountRequest{Name: "ci"})
	var httpErr *commands.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusConflict, httpErr.Status)

	accounts, err := store.ListServiceAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, sa.ClientID, accounts[0].ClientID)
}

func TestServer_FeedbackSinkRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	sink, err := feedback.NewHTTPSink(ts.URL, ts.Client(), func(context.Context) (string, error) { return "tok", nil })
	require.NoError(t, err)

	err = sink.Submit(context.Background(), feedback.Target{ConversationID: "c1", MessageID: "m1"},
		feedback.Submission{Rating: feedback.RatingNegative, Freeform: "wrong answer"})
	require.NoError(t, err)

	resp, err := ts.Client().Get(ts.URL + "/feedback?conversation_id=c1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var got []FeedbackRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].MessageID)
	require.Equal(t, "negative", got[0].Rating)
	require.Equal(t, "wrong answer", got[0].Freeform)
}

func TestServer_RequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	sink, err := feedback.NewHTTPSink(ts.URL, ts.Client(), nil)
	require.NoError(t, err)
	err = sink.Submit(context.Background(), feedback.Target{ConversationID: "c1", MessageID: "m1"}, feedback.Submission{})
	var httpErr *feedback.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Status)
}
