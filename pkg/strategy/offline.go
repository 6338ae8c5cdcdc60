package strategy

import (
	"bytes"
	_ "embed"
	"io"
	"net/http"
	"strconv"
)

//go:embed offline.html
var offlinePage []byte

// OfflinePage returns the HTML document served to navigations that can be
// answered neither by the network nor by the cache.
func OfflinePage() []byte {
	return append([]byte(nil), offlinePage...)
}

// OfflineResponse synthesizes the offline document as a 200 text/html response.
func OfflineResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(offlinePage)))

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(OfflinePage())),
		ContentLength: int64(len(offlinePage)),
		Request:       req,
	}
}
