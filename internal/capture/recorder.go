package capture

import (
	"bytes"
	"net/http"
)

// recorder stands in for the real ResponseWriter while the downstream handler
// runs. Nothing reaches the client until the middleware replays it.
type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder(real http.ResponseWriter) *recorder {
	return &recorder{
		header: real.Header().Clone(),
		status: http.StatusOK,
	}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

func (r *recorder) WriteString(s string) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.WriteString(s)
}

// emailCopy returns an independent copy of everything written so far.
func (r *recorder) emailCopy() string {
	return r.body.String()
}

// replay sends the captured response to w. The handler's header set replaces
// w's, so headers it deleted stay deleted.
func (r *recorder) replay(w http.ResponseWriter) error {
	dst := w.Header()
	for k := range dst {
		if _, ok := r.header[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range r.header {
		dst[k] = v
	}
	w.WriteHeader(r.status)
	_, err := w.Write(r.body.Bytes())
	return err
}
