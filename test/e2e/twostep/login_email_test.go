package twostep_test

import (
	"fmt"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
)

var codePattern = regexp.MustCompile(`\d{8}`)

func TestEmailLoginFlow(t *testing.T) {
	srv := setupServer(t)

	// The host pushes the user's address, then enables the provider.
	status := doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/v1/users/%s/email", srv.URL, testUser),
		map[string]string{"email": "user@example.com"}, nil)
	require.Equal(t, http.StatusNoContent, status)

	enableProviders(t, srv, testUser, "email")

	var start domain.LoginStart
	status = doJSON(t, http.MethodPost, srv.URL+"/v1/login/start",
		map[string]string{"user_id": testUser}, &start)
	require.Equal(t, http.StatusOK, status)
	require.True(t, start.Required)
	require.Equal(t, "email", start.Challenge.Provider)

	// Starting the step delivered a code to the user's address.
	mail := srv.Mailer.last(t)
	require.Equal(t, "user@example.com", mail.To)
	code := codePattern.FindString(mail.Body)
	require.NotEmpty(t, code, "mail body should carry an 8 digit code")

	var result domain.VerifyResult
	status = doJSON(t, http.MethodPost, srv.URL+"/v1/login/verify",
		map[string]string{
			"user_id":  testUser,
			"nonce":    start.Nonce,
			"provider": "email",
			"proof":    code,
		}, &result)
	require.Equal(t, http.StatusOK, status)
	require.True(t, result.Verified)
	require.NotEmpty(t, result.Assertion)
}

func TestEmailCodeIsSingleUse(t *testing.T) {
	srv := setupServer(t)

	status := doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/v1/users/%s/email", srv.URL, testUser),
		map[string]string{"email": "user@example.com"}, nil)
	require.Equal(t, http.StatusNoContent, status)
	enableProviders(t, srv, testUser, "email")

	var start domain.LoginStart
	doJSON(t, http.MethodPost, srv.URL+"/v1/login/start",
		map[string]string{"user_id": testUser}, &start)
	code := codePattern.FindString(srv.Mailer.last(t).Body)

	// A wrong submission burns the stored code. The retry challenge
	// delivers a fresh one.
	var rejected domain.VerifyResult
	status = doJSON(t, http.MethodPost, srv.URL+"/v1/login/verify",
		map[string]string{
			"user_id":  testUser,
			"nonce":    start.Nonce,
			"provider": "email",
			"proof":    "00000000",
		}, &rejected)
	require.Equal(t, http.StatusOK, status)
	require.False(t, rejected.Verified)

	fresh := codePattern.FindString(srv.Mailer.last(t).Body)
	require.NotEqual(t, code, fresh)

	// The burned code no longer works even though it was never used.
	var result domain.VerifyResult
	status = doJSON(t, http.MethodPost, srv.URL+"/v1/login/verify",
		map[string]string{
			"user_id":  testUser,
			"nonce":    rejected.Retry.Nonce,
			"provider": "email",
			"proof":    code,
		}, &result)
	require.Equal(t, http.StatusOK, status)
	require.False(t, result.Verified)
}
