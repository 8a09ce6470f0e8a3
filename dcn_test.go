package dcn_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcn "github.com/hypermusic-ai/dcn-sdk"
	"github.com/hypermusic-ai/dcn-sdk/dcntest"
	"github.com/hypermusic-ai/dcn-sdk/wallet"
)

// recordingServer captures the raw request line and headers of the last
// request and replies with a fixed JSON body.
func recordingServer(t *testing.T, body string) (*httptest.Server, func() *http.Request) {
	t.Helper()
	var last *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(r.Context())
		last = clone
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server, func() *http.Request { return last }
}

func TestUnauthenticatedRequestsCarryNoAuthorizationHeader(t *testing.T) {
	server, last := recordingServer(t, `{"version":"1.0.0"}`)
	client := dcn.New(server.URL)

	out, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", out.Version)

	_, present := last().Header["Authorization"]
	assert.False(t, present, "unauthenticated request must carry no Authorization header")
}

func TestAuthenticatedRequestsReadTokenAtCallTime(t *testing.T) {
	server, last := recordingServer(t, `{"feature":"melody","samples":[]}`)
	client := dcn.New(server.URL, dcn.WithTokens("first", ""))

	_, err := client.Execute(context.Background(), "melody", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer first", last().Header.Get("Authorization"))

	// A rotation is observed by the next call without rebuilding the client.
	client.Tokens().Rotate("second", "")
	_, err = client.Execute(context.Background(), "melody", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer second", last().Header.Get("Authorization"))
}

func TestExecutePathShapes(t *testing.T) {
	server, last := recordingServer(t, `{"feature":"melody","samples":[]}`)
	client := dcn.New(server.URL, dcn.WithTokens("tok", ""))
	ctx := context.Background()

	_, err := client.Execute(ctx, "melody", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "/execute/melody/5", last().RequestURI)

	_, err = client.Execute(ctx, "melody", 5, []dcn.RunningInstance{{Instance: 12, Count: 3}, {Instance: 1, Count: 1}})
	require.NoError(t, err)
	assert.Equal(t, "/execute/melody/5/[(12;3),(1;1)]", last().RequestURI,
		"bracket grammar must survive the request path unescaped")

	// An empty slice is "none supplied", never an encoded empty list.
	_, err = client.Execute(ctx, "melody", 5, []dcn.RunningInstance{})
	require.NoError(t, err)
	assert.Equal(t, "/execute/melody/5", last().RequestURI)
}

func TestVersionedResourcePaths(t *testing.T) {
	server, last := recordingServer(t, `{"name":"osc","version":"1.0.0"}`)
	client := dcn.New(server.URL)
	ctx := context.Background()

	_, err := client.GetFeature(ctx, "osc", "")
	require.NoError(t, err)
	assert.Equal(t, "/feature/osc", last().RequestURI)

	_, err = client.GetFeature(ctx, "osc", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "/feature/osc/1.0.0", last().RequestURI)

	_, err = client.GetTransformation(ctx, "scale", "")
	require.NoError(t, err)
	assert.Equal(t, "/transformation/scale", last().RequestURI)

	_, err = client.GetTransformation(ctx, "scale", "2.1")
	require.NoError(t, err)
	assert.Equal(t, "/transformation/scale/2.1", last().RequestURI)
}

func TestAccountInfoQueryParameters(t *testing.T) {
	server, last := recordingServer(t, `{"address":"0xabc"}`)
	client := dcn.New(server.URL, dcn.WithTokens("tok", ""))

	_, err := client.AccountInfo(context.Background(), "0xabc", 5, 2)
	require.NoError(t, err)
	assert.Equal(t, "/account/0xabc?limit=5&page=2", last().RequestURI)
}

type countingTransport struct {
	calls atomic.Int64
}

func (t *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, fmt.Errorf("unexpected network call")
}

func TestRefreshWithoutTokenFailsLocally(t *testing.T) {
	transport := &countingTransport{}
	client := dcn.New("http://dcn.invalid", dcn.WithHTTPClient(&http.Client{Transport: transport}))

	_, err := client.Refresh(context.Background())
	assert.ErrorIs(t, err, dcn.ErrNoRefreshToken)
	assert.Zero(t, transport.calls.Load(), "a missing refresh token must not reach the network")
}

func newStub(t *testing.T, opts ...dcntest.Option) *httptest.Server {
	t.Helper()
	stub, err := dcntest.New(opts...)
	require.NoError(t, err)
	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)
	return server
}

func TestLoginExecuteRefreshFlow(t *testing.T) {
	server := newStub(t)
	ctx := context.Background()

	w, err := wallet.New()
	require.NoError(t, err)
	client := dcn.New(server.URL)

	auth, err := client.LoginWithWallet(ctx, w)
	require.NoError(t, err)
	require.NotEmpty(t, auth.AccessToken)
	require.NotEmpty(t, auth.RefreshToken)
	assert.Equal(t, auth.AccessToken, client.Tokens().Access())
	assert.Equal(t, auth.RefreshToken, client.Tokens().Refresh())

	feature, err := client.CreateFeature(ctx, dcn.NewFeature{
		Name: "melody",
		Dimensions: []dcn.Dimension{
			{FeatureName: "pitch", Transformations: []dcn.TransformationRef{{Name: "add", Args: []int64{1}}}},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, feature.Version)
	assert.Equal(t, w.Address(), feature.Owner)

	result, err := client.Execute(ctx, "melody", 3, []dcn.RunningInstance{{Instance: 12, Count: 3}})
	require.NoError(t, err)
	require.Len(t, result.Samples, 3)
	assert.Equal(t, uint64(12), result.Samples[0][0])
	assert.Equal(t, uint64(15), result.Samples[1][0])
	assert.Equal(t, uint64(18), result.Samples[2][0])

	oldAccess := client.Tokens().Access()
	oldRefresh := client.Tokens().Refresh()

	refreshed, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, oldAccess, refreshed.AccessToken)
	assert.Equal(t, refreshed.AccessToken, client.Tokens().Access())
	assert.NotEqual(t, oldRefresh, client.Tokens().Refresh())

	// Subsequent calls use the rotated access token.
	_, err = client.Execute(ctx, "melody", 1, nil)
	require.NoError(t, err)

	// The rotated-out refresh token is revoked server-side.
	stale := dcn.New(server.URL, dcn.WithTokens(refreshed.AccessToken, oldRefresh))
	_, err = stale.Refresh(ctx)
	var apiErr *dcn.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())
}

func TestRefreshWithoutServerRotationKeepsRefreshToken(t *testing.T) {
	server := newStub(t, dcntest.WithRefreshRotation(false))
	ctx := context.Background()

	w, err := wallet.New()
	require.NoError(t, err)
	client := dcn.New(server.URL)
	_, err = client.LoginWithWallet(ctx, w)
	require.NoError(t, err)

	oldRefresh := client.Tokens().Refresh()

	refreshed, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, refreshed.RefreshToken)
	assert.Equal(t, oldRefresh, client.Tokens().Refresh(), "refresh token must be kept when the server withholds a new one")

	// The old refresh token remains usable for a further refresh.
	_, err = client.Refresh(ctx)
	require.NoError(t, err)
}

func TestLoginFailureLeavesStoreUntouched(t *testing.T) {
	server := newStub(t)
	ctx := context.Background()

	victim, err := wallet.New()
	require.NoError(t, err)
	imposter, err := wallet.New()
	require.NoError(t, err)

	client := dcn.New(server.URL)
	nonce, err := client.Nonce(ctx, victim.Address())
	require.NoError(t, err)

	message := dcn.LoginMessage(nonce.Nonce)
	signature, err := imposter.SignMessage(message)
	require.NoError(t, err)

	_, err = client.Login(ctx, victim.Address(), message, signature)
	var apiErr *dcn.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())
	assert.False(t, client.Tokens().Authenticated(), "failed login must not mutate the token store")
}

func TestRejectedRefreshDoesNotResetCredentials(t *testing.T) {
	server := newStub(t)
	ctx := context.Background()

	client := dcn.New(server.URL, dcn.WithTokens("held-access", "garbage-refresh"))
	_, err := client.Refresh(ctx)
	var apiErr *dcn.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())

	// Preserved as-is: the caller decides whether to re-login.
	assert.Equal(t, "held-access", client.Tokens().Access())
	assert.Equal(t, "garbage-refresh", client.Tokens().Refresh())
}

func TestAutoRefreshRetriesOnceOn401(t *testing.T) {
	var accountCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/account/", func(w http.ResponseWriter, r *http.Request) {
		accountCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"token expired"}`)
			return
		}
		fmt.Fprint(w, `{"address":"0xabc"}`)
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Refresh-Token") != "rf" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	// Default client: the 401 is surfaced as-is, no second attempt.
	plain := dcn.New(server.URL, dcn.WithTokens("stale", "rf"))
	_, err := plain.AccountInfo(context.Background(), "0xabc", 50, 0)
	var apiErr *dcn.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, int64(1), accountCalls.Load())

	// Opt-in auto-refresh: one refresh, one retry.
	accountCalls.Store(0)
	client := dcn.New(server.URL, dcn.WithTokens("stale", "rf"), dcn.WithAutoRefresh(true))
	out, err := client.AccountInfo(context.Background(), "0xabc", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", out.Address)
	assert.Equal(t, "fresh", client.Tokens().Access())
	assert.Equal(t, int64(2), accountCalls.Load())
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"feature not found"}`)
	}))
	t.Cleanup(server.Close)

	client := dcn.New(server.URL)
	_, err := client.GetFeature(context.Background(), "missing", "")
	var apiErr *dcn.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "feature not found")
	assert.False(t, apiErr.Unauthorized())
}
