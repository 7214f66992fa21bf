package mjpeg

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// readPart reads exactly Content-Length bytes; the stream stays open so
// reading to the next boundary would block
func readPart(t *testing.T, part *multipart.Part) []byte {
	t.Helper()
	n, err := strconv.Atoi(part.Header.Get("Content-Length"))
	require.NoError(t, err)
	body := make([]byte, n)
	_, err = io.ReadFull(part, body)
	require.NoError(t, err)
	return body
}

func TestPublishJPEGStoresLatest(t *testing.T) {
	p := NewPublisher(80, 640, 360)

	_, ok := p.Latest("lobby")
	assert.False(t, ok)

	p.PublishJPEG("lobby", []byte("one"))
	p.PublishJPEG("lobby", []byte("two"))

	got, ok := p.Latest("lobby")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), got)
}

func TestPublishMatEncodesJPEG(t *testing.T) {
	p := NewPublisher(90, 64, 48)
	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	require.NoError(t, p.PublishMat("cam", mat))
	got, ok := p.Latest("cam")
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8}, got[:2])
}

func TestStreamMJPEGHTTP(t *testing.T) {
	p := NewPublisher(80, 64, 48)
	p.keepalive = time.Hour
	p.PublishJPEG("lobby", []byte("first"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.StreamMJPEGHTTP(w, r, "lobby")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	reader := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])

	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	assert.Equal(t, []byte("first"), readPart(t, part))

	require.Eventually(t, func() bool { return p.Viewers("lobby") == 1 }, time.Second, 5*time.Millisecond)
	p.PublishJPEG("lobby", []byte("second"))

	part, err = reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), readPart(t, part))

	cancel()
	require.Eventually(t, func() bool { return p.Viewers("lobby") == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	p := NewPublisher(80, 64, 48)
	p.keepalive = time.Hour
	p.PublishJPEG("lobby", []byte("first"))

	returned := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(returned)
		p.StreamMJPEGHTTP(w, r, "lobby")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return p.Viewers("lobby") == 1 }, time.Second, 5*time.Millisecond)

	p.Shutdown()
	p.Shutdown()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Shutdown")
	}
	assert.Equal(t, 0, p.Viewers("lobby"))

	// the client sees the end of the body
	_, err = io.Copy(io.Discard, resp.Body)
	assert.NoError(t, err)
}
