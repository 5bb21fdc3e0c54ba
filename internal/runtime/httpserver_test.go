package runtime

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func httpGet(url string) (int, string, error) {
	client := &http.Client{
		Timeout:   time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

func TestRegisterHTTPHandler_NewPortAfterNewIsServed(t *testing.T) {
	c, _ := newTestCorrelator(t)
	port := freePort(t)

	c.RegisterHTTPHandler(port, "/hello", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))

	url := fmt.Sprintf("http://127.0.0.1:%d/hello", port)
	require.Eventually(t, func() bool {
		code, body, err := httpGet(url)
		return err == nil && code == http.StatusOK && body == "hi"
	}, 2*time.Second, 20*time.Millisecond)

	c.RegisterHTTPHandler(port, "/bye", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("bye"))
	}))
	code, body, err := httpGet(fmt.Sprintf("http://127.0.0.1:%d/bye", port))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bye", body, "later patterns join the running mux")
}

func TestRegisterHTTPHandler_NothingServedAfterClose(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.Close())

	port := freePort(t)
	c.RegisterHTTPHandler(port, "/late", http.NotFoundHandler())

	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	assert.Empty(t, c.httpServers)
	assert.Equal(t, httpStopped, c.httpState)
}
