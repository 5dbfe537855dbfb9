package main

import (
	"net/http"
	"testing"
	"time"

	"devicegate/tests/suite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceIDsOf(body map[string]any, key string) []string {
	raw, _ := body[key].([]any)
	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		device, _ := entry.(map[string]any)
		id, _ := device["deviceId"].(string)
		ids = append(ids, id)
	}
	return ids
}

func registerDevice(t *testing.T, st *suite.Suite, token, deviceID, descriptor string) {
	t.Helper()

	status, body := st.PostJSON("/api/device/register", token, map[string]any{
		"deviceId":   deviceID,
		"descriptor": descriptor,
	})
	require.Equal(t, http.StatusOK, status, "register %s: %v", deviceID, body)
	// Distinct last-active timestamps keep device ordering deterministic.
	time.Sleep(5 * time.Millisecond)
}

func TestDeviceAPI_Unauthorized(t *testing.T) {
	st := suite.New(t)

	status, body := st.PostJSON("/api/device/check", "", map[string]any{"deviceId": gofakeit.UUID()})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, body["error"])

	status, _ = st.PostJSON("/api/device/check", "not-a-token", map[string]any{"deviceId": gofakeit.UUID()})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDeviceAPI_ValidationError(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())

	status, body := st.PostJSON("/api/device/check", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])
}

func TestDeviceAPI_ConflictAndReplaceFlow(t *testing.T) {
	st := suite.New(t)
	token := st.Token("U1", gofakeit.Email())

	registerDevice(t, st, token, "D1", "Windows NT 10.0")
	registerDevice(t, st, token, "D2", "Macintosh; Intel Mac OS X")
	registerDevice(t, st, token, "D3", "iPhone OS 17_0")

	// A fourth device sees a conflict with the existing sessions newest-first.
	// It holds no session yet, so it also gets the force-sign-out signal.
	status, body := st.PostJSON("/api/device/check", token, map[string]any{"deviceId": "D4"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, true, body["forceLogout"])
	assert.Equal(t, true, body["hasConflict"])
	assert.EqualValues(t, 3, body["deviceCount"])
	assert.Equal(t, []string{"D3", "D2", "D1"}, deviceIDsOf(body, "existingDevices"))

	// Registering it directly is blocked with the same payload.
	status, body = st.PostJSON("/api/device/register", token, map[string]any{
		"deviceId":   "D4",
		"descriptor": "Windows NT 10.0",
	})
	require.Equal(t, http.StatusConflict, status)
	assert.EqualValues(t, 3, body["deviceCount"])
	assert.Equal(t, []string{"D3", "D2", "D1"}, deviceIDsOf(body, "existingDevices"))

	// The user evicts D1 in favor of D4.
	status, body = st.PostJSON("/api/device/replace", token, map[string]any{
		"evictDeviceId": "D1",
		"deviceId":      "D4",
		"descriptor":    "Windows NT 10.0",
	})
	require.Equal(t, http.StatusOK, status, "replace: %v", body)

	status, body = st.GetJSON("/api/devices", token)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["maxDevices"])
	assert.ElementsMatch(t, []string{"D2", "D3", "D4"}, deviceIDsOf(body, "devices"))

	// The evicted device learns about it on its next heartbeat.
	status, body = st.PostJSON("/api/device/heartbeat", token, map[string]any{"deviceId": "D1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, true, body["forceLogout"])
}

func TestDeviceAPI_ReLoginAtCapIsNotAConflict(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())

	registerDevice(t, st, token, "D1", "Windows")
	registerDevice(t, st, token, "D2", "Mac")
	registerDevice(t, st, token, "D3", "Linux")

	status, body := st.PostJSON("/api/device/check", token, map[string]any{"deviceId": "D3"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isActive"])
	assert.Equal(t, false, body["hasConflict"])
	assert.EqualValues(t, 3, body["deviceCount"])
	assert.NotContains(t, body, "forceLogout")
}

func TestDeviceAPI_CheckUnknownDeviceForcesLogout(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())

	// An evicted or never-registered device must be told to sign out even
	// though the account has room and there is no conflict.
	status, body := st.PostJSON("/api/device/check", token, map[string]any{"deviceId": gofakeit.UUID()})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, true, body["forceLogout"])
	assert.Equal(t, false, body["hasConflict"])
}

func TestDeviceAPI_HeartbeatLifecycle(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())
	device := gofakeit.UUID()

	// Never registered: evicted.
	status, body := st.PostJSON("/api/device/heartbeat", token, map[string]any{"deviceId": device})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, true, body["forceLogout"])

	registerDevice(t, st, token, device, "iPhone")

	status, body = st.PostJSON("/api/device/heartbeat", token, map[string]any{"deviceId": device})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isActive"])

	// Disconnect, then the very next heartbeat reports eviction.
	status, _ = st.PostJSON("/api/device/remove", token, map[string]any{"deviceId": device})
	require.Equal(t, http.StatusOK, status)

	status, body = st.PostJSON("/api/device/heartbeat", token, map[string]any{"deviceId": device})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, true, body["forceLogout"])
}

func TestDeviceAPI_RegisterIsIdempotent(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())
	device := gofakeit.UUID()

	registerDevice(t, st, token, device, "Mac")
	registerDevice(t, st, token, device, "Mac")

	status, body := st.GetJSON("/api/devices", token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, deviceIDsOf(body, "devices"), 1)
}

func TestDeviceAPI_ServerMintsDeviceID(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())

	status, body := st.PostJSON("/api/device/register", token, map[string]any{
		"descriptor": "Windows NT 10.0",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["deviceId"])
}

func TestDeviceAPI_AccountsAreIsolated(t *testing.T) {
	st := suite.New(t)
	tokenA := st.Token(gofakeit.UUID(), gofakeit.Email())
	tokenB := st.Token(gofakeit.UUID(), gofakeit.Email())

	registerDevice(t, st, tokenA, "D1", "Windows")
	registerDevice(t, st, tokenA, "D2", "Windows")
	registerDevice(t, st, tokenA, "D3", "Windows")

	// Account A is full; account B still registers freely.
	status, body := st.PostJSON("/api/device/register", tokenB, map[string]any{
		"deviceId":   gofakeit.UUID(),
		"descriptor": "Mac",
	})
	require.Equal(t, http.StatusOK, status, "account B register: %v", body)

	status, body = st.GetJSON("/api/devices", tokenB)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, deviceIDsOf(body, "devices"), 1)
}

func TestDeviceAPI_ClientConfig(t *testing.T) {
	st := suite.New(t)
	token := st.Token(gofakeit.UUID(), gofakeit.Email())

	status, body := st.GetJSON("/api/config", token)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["maxDevices"])
	assert.EqualValues(t, 30, body["heartbeatIntervalSeconds"])
}
